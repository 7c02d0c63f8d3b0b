package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/caiman/internal/protocol"
)

// send frames everything committed to the fifo as APC_DATA and exits after
// forwarding the zero-length end-of-stream marker. It is the only reader of
// the fifo.
func (b *Bridge) send() error {
	f := b.cfg.Fifo
	for {
		f.WaitData()
		// A wrapped ring hands out its tail first, so drain until Read
		// reports nothing rather than once per wake.
		for {
			data, ok := f.Read()
			if !ok {
				break
			}
			if b.fatal.get() != nil {
				return nil
			}
			if err := b.writeFrame(protocol.ResponseAPCData, data); err != nil {
				return err
			}
			if len(data) == 0 {
				b.logf("Exit sender thread")
				return nil
			}
			f.Release()
		}
	}
}

// listen owns inbound frames while streaming. APC_STOP and a lost
// connection both end sampling; PING is acknowledged; anything else is noise.
func (b *Bridge) listen(ctx context.Context, cancel context.CancelFunc) {
	b.logf("Launch stop thread")
	defer b.logf("Exit stop thread")

	for ctx.Err() == nil {
		h, err := protocol.ReadHeader(b.conn)
		if err == nil {
			_, err = protocol.ReadPayload(b.conn, h)
		}
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				b.fail(fmt.Errorf("invalid length received: %w", err), cancel)
				return
			}
			if ctx.Err() == nil {
				b.logf("Host connection lost, stopping: %v", err)
			}
			cancel()
			return
		}

		cmd := protocol.CommandType(h.Type)
		b.metrics.CommandReceived(cmd)
		switch {
		case cmd != protocol.CommandAPCStop && cmd != protocol.CommandPing:
			b.logf("INVESTIGATE: Received unknown command type %d", h.Type)
		case h.Length != 0:
			b.logf("INVESTIGATE: Received %s command but with length = %d", cmd, h.Length)
		case cmd == protocol.CommandAPCStop:
			b.logf("Stop command received.")
			cancel()
			return
		default:
			b.logf("Ping command received.")
			if err := b.writeFrame(protocol.ResponseACK, nil); err != nil {
				b.logf("Unable to acknowledge ping: %v", err)
			}
		}
	}
}
