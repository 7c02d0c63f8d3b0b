package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// RealSerialPortFactory opens ports with go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns a factory backed by real hardware.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens the port at path in raw mode with the given options.
func (RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}
