// Package bridge relays samples from a measurement device to one Streamline
// host. It owns the connection lifecycle: handshake, the command exchange
// before APC_START, the streaming roles and the ordered shutdown.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/caiman/internal/device"
	"github.com/banshee-data/caiman/internal/fifo"
	"github.com/banshee-data/caiman/internal/monitoring"
	"github.com/banshee-data/caiman/internal/protocol"
	"github.com/banshee-data/caiman/internal/session"
)

// ErrDisconnected is returned when the host ends the session with DISCONNECT
// before streaming starts. It is a clean exit, not a failure.
var ErrDisconnected = errors.New("host disconnected")

// DefaultLinger bounds how long shutdown waits for the host to close its side
// after the bridge half-closes the connection.
const DefaultLinger = 5 * time.Second

// Conn is a stream connection whose write side can be closed on its own.
// *net.TCPConn satisfies it.
type Conn interface {
	io.ReadWriteCloser
	CloseWrite() error
}

// Metrics receives per-frame notifications. monitor.Stats implements it.
type Metrics interface {
	FrameSent(typ protocol.ResponseType, payloadBytes int)
	CommandReceived(typ protocol.CommandType)
}

type noopMetrics struct{}

func (noopMetrics) FrameSent(protocol.ResponseType, int)  {}
func (noopMetrics) CommandReceived(protocol.CommandType) {}

// Config holds the collaborators of a Bridge.
type Config struct {
	Session *session.Session
	// Device must write its samples into Fifo.
	Device     device.Device
	DeviceName string
	Fifo       *fifo.Fifo

	ProtocolVersion int
	Logf            monitoring.LogFunc
	Metrics         Metrics
	Linger          time.Duration
}

// Bridge serves a single host connection. It is not reusable.
type Bridge struct {
	cfg     Config
	id      uuid.UUID
	logf    monitoring.LogFunc
	metrics Metrics

	conn    Conn
	writeMu sync.Mutex
	fatal   fatalGuard
}

// New returns a Bridge for cfg.
func New(cfg Config) *Bridge {
	if cfg.Linger <= 0 {
		cfg.Linger = DefaultLinger
	}
	b := &Bridge{
		cfg:     cfg,
		id:      uuid.New(),
		logf:    monitoring.OrDiscard(cfg.Logf),
		metrics: cfg.Metrics,
	}
	if b.metrics == nil {
		b.metrics = noopMetrics{}
	}
	return b
}

// SessionID identifies this bridge in logs and on the debug surface.
func (b *Bridge) SessionID() string { return b.id.String() }

// Serve prepares the device channels, accepts one connection from ln, closes
// ln and runs the session on that connection. Cancelling ctx while waiting
// for the connection aborts immediately.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	if err := b.cfg.Device.PrepareChannels(); err != nil {
		ln.Close()
		return err
	}

	b.logf("Waiting on connection...")
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	c, err := ln.Accept()
	stop()
	ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("accept connection: %w", err)
	}

	conn, ok := c.(Conn)
	if !ok {
		conn = halfCloser{c}
	}
	return b.Run(ctx, conn)
}

// halfCloser adapts connections without a separate write shutdown.
type halfCloser struct{ net.Conn }

func (halfCloser) CloseWrite() error { return nil }

// Run drives one session over conn: handshake, setup commands, streaming and
// shutdown. The device channels must already be prepared. Run returns nil
// after a graceful stop and ErrDisconnected if the host disconnected before
// APC_START. Any other error is fatal and has already been reported to the
// host as an ERROR frame.
func (b *Bridge) Run(ctx context.Context, conn Conn) error {
	b.conn = conn
	b.logf("Session %s started", b.id)

	if err := b.setup(ctx); err != nil {
		if errors.Is(err, ErrDisconnected) || ctx.Err() != nil {
			conn.Close()
			return err
		}
		return b.abort(err, nil)
	}
	return b.stream(ctx)
}

// setup performs the handshake and answers commands until APC_START. Blocking
// reads are released by closing the connection if ctx is cancelled.
func (b *Bridge) setup(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { b.conn.Close() })
	defer stop()

	if err := protocol.AwaitHandshake(b.conn, b.cfg.ProtocolVersion); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("socket disconnected: %w", err)
	}
	b.logf("Completed magic sequence")

	for {
		h, err := protocol.ReadHeader(b.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				return fmt.Errorf("invalid length received: %w", err)
			}
			return fmt.Errorf("unexpected socket disconnect: %w", err)
		}
		if _, err := protocol.ReadPayload(b.conn, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("unexpected socket disconnect: %w", err)
		}

		cmd := protocol.CommandType(h.Type)
		b.metrics.CommandReceived(cmd)
		switch cmd {
		case protocol.CommandRequestXML:
			xml, err := b.cfg.Session.CapturedXML(b.cfg.ProtocolVersion, b.cfg.Device.Target())
			if err != nil {
				return err
			}
			if err := b.writeFrame(protocol.ResponseXML, xml); err != nil {
				return err
			}
		case protocol.CommandDeliverXML:
			return fmt.Errorf("%w: deliver XML command not supported", protocol.ErrProtocolViolation)
		case protocol.CommandAPCStart:
			if h.Length != 0 {
				return fmt.Errorf("%w: APC start request with %d byte payload", protocol.ErrProtocolViolation, h.Length)
			}
			b.logf("Received apc start request")
			return nil
		case protocol.CommandAPCStop:
			return fmt.Errorf("%w: received apc stop request before apc start request", protocol.ErrProtocolViolation)
		case protocol.CommandDisconnect:
			b.logf("Received disconnect command")
			return ErrDisconnected
		default:
			return fmt.Errorf("%w: unexpected %s command before apc start", protocol.ErrProtocolViolation, cmd)
		}
	}
}

// stream runs the sampling loop on the calling goroutine with the sender and
// listener roles alongside, then shuts down in order: device stop, end of
// stream, sender drained, write side closed, listener joined, socket closed.
func (b *Bridge) stream(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		if err := b.send(); err != nil {
			b.fail(err, cancel)
		}
	}()

	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		b.listen(ctx, cancel)
	}()

	if err := b.sample(ctx); err != nil {
		b.fail(err, cancel)
	}
	b.logf("Get data loop finished; caiman is shutting down")
	cancel()

	if err := b.cfg.Device.Stop(); err != nil {
		b.fail(fmt.Errorf("stop device: %w", err), cancel)
	}

	if err := b.fatal.get(); err != nil {
		return b.abort(err, []<-chan struct{}{senderDone, listenerDone})
	}

	if _, err := b.cfg.Fifo.Commit(0); err != nil && !errors.Is(err, fifo.ErrClosed) {
		b.fail(fmt.Errorf("end of stream: %w", err), cancel)
	}
	<-senderDone
	if err := b.fatal.get(); err != nil {
		return b.abort(err, []<-chan struct{}{listenerDone})
	}

	if err := b.conn.CloseWrite(); err != nil {
		b.logf("Half-close failed: %v", err)
	}
	select {
	case <-listenerDone:
	case <-time.After(b.cfg.Linger):
		b.logf("Host did not close the connection within %s", b.cfg.Linger)
	}
	b.conn.Close()
	<-listenerDone

	if err := b.fatal.get(); err != nil {
		return err
	}
	b.logf("Session %s finished", b.id)
	return nil
}

// sample initialises the device and reads from it until ctx is cancelled.
func (b *Bridge) sample(ctx context.Context) error {
	dev := b.cfg.Device
	if err := dev.Init(ctx, b.cfg.DeviceName); err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		return err
	}
	for ctx.Err() == nil {
		if err := dev.ProcessBuffer(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) writeFrame(typ protocol.ResponseType, payload []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := protocol.WriteFrame(b.conn, typ, payload); err != nil {
		return err
	}
	b.metrics.FrameSent(typ, len(payload))
	return nil
}
