// Package device acquires power samples from measurement hardware and encodes
// them as 4-byte little-endian values, one per enabled field, in the order the
// capture description lists them.
package device

import (
	"context"
	"errors"

	"github.com/banshee-data/caiman/internal/session"
)

const (
	// DataSize is the encoded size of one sample value.
	DataSize = 4

	// SampleRate is the rate, in Hz, of every supported device.
	SampleRate = 10000

	// MaxSampleValue is the largest encodable sample.
	MaxSampleValue = 0x7FFFFFFF
)

var (
	ErrVersionMismatch = errors.New("energy probe version mismatch")
	ErrRateMismatch    = errors.New("unexpected sample rate")
	ErrUnexpectedAck   = errors.New("unexpected response from device")
	ErrTooManyChannels = errors.New("channel not supported by device")
	ErrNotStarted      = errors.New("device not started")
)

// Device is a sample source. Methods are called in order: PrepareChannels,
// Init, Start, then ProcessBuffer repeatedly, then Stop. Stop may be called at
// any point after PrepareChannels and is idempotent.
type Device interface {
	// PrepareChannels derives the per-channel field masks from the session.
	PrepareChannels() error
	// Init opens the named device, or auto-detects one when name is empty,
	// and configures it.
	Init(ctx context.Context, name string) error
	// Start begins sampling.
	Start() error
	// ProcessBuffer reads one chunk from the device and writes the encoded
	// samples to the sink. It returns nil without error if ctx is cancelled
	// mid-read.
	ProcessBuffer(ctx context.Context) error
	// Stop halts sampling and releases the device.
	Stop() error
	// Target describes the device for the capture description.
	Target() session.Target
}

// Observer receives per-sample notifications for monitoring.
type Observer interface {
	SampleDecoded(source int, value uint32)
	FramesMissing(n int)
	Overflow()
}

type noopObserver struct{}

func (noopObserver) SampleDecoded(int, uint32) {}
func (noopObserver) FramesMissing(int)         {}
func (noopObserver) Overflow()                 {}

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return noopObserver{}
	}
	return o
}
