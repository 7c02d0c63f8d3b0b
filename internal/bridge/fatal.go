package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/caiman/internal/protocol"
)

// fatalGuard keeps the first fatal error of a session. Later errors are
// dropped so teardown failures cannot replace or re-trigger the report.
type fatalGuard struct {
	mu  sync.Mutex
	err error
}

// trip records err unless an error is already held, and reports whether err
// was recorded.
func (g *fatalGuard) trip(err error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false
	}
	g.err = err
	return true
}

func (g *fatalGuard) get() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// fail records a fatal error raised by one of the streaming roles and stops
// the others: sampling through cancel, sender and producer through the fifo.
func (b *Bridge) fail(err error, cancel context.CancelFunc) {
	if !b.fatal.trip(err) {
		b.logf("Suppressed error after fatal error: %v", err)
		return
	}
	cancel()
	if b.cfg.Fifo != nil {
		b.cfg.Fifo.Close()
	}
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// abort sends the first fatal error to the host as an ERROR frame, closes the
// connection and waits for the given roles to exit. Writes are bounded by the
// linger deadline so a host that stopped reading cannot wedge shutdown.
func (b *Bridge) abort(err error, roles []<-chan struct{}) error {
	b.fatal.trip(err)
	first := b.fatal.get()

	if d, ok := b.conn.(writeDeadliner); ok {
		deadline := time.Now().Add(b.cfg.Linger)
		_ = d.SetWriteDeadline(deadline)
	}
	if werr := b.writeFrame(protocol.ResponseError, []byte(first.Error())); werr != nil {
		b.logf("Unable to report error to host: %v", werr)
	}
	b.conn.Close()

	for _, done := range roles {
		<-done
	}
	return first
}
