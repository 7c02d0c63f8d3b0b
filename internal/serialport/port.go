// Package serialport opens the USB CDC serial device behind the energy probe
// and provides in-memory stand-ins for tests.
package serialport

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports that support read deadlines.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortFactory opens serial ports by path.
type SerialPortFactory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}
