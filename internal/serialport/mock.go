package serialport

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestableSerialPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory probe link. Bytes queued with
// AddReadData are served to Read; everything written is kept for inspection.
type TestableSerialPort struct {
	mu       sync.Mutex
	readable *sync.Cond
	in       bytes.Buffer
	out      bytes.Buffer

	// ReadError and WriteError fail the next call once.
	ReadError  error
	WriteError error
	CloseError error

	Closed      bool
	CloseCalls  int
	ReadTimeout time.Duration

	// BlockReads makes an empty port block like a live device instead of
	// reading as io.EOF.
	BlockReads bool

	// OnWrite sees each write after it is recorded and may queue the device's
	// reply with AddReadData.
	OnWrite func(p []byte)
}

// NewTestableSerialPort returns an open, empty port.
func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.readable = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ReadError; err != nil && !t.Closed {
		t.ReadError = nil
		return 0, err
	}
	for t.BlockReads && !t.Closed && t.in.Len() == 0 {
		t.readable.Wait()
	}
	switch {
	case t.Closed:
		return 0, ErrPortClosed
	case t.in.Len() == 0:
		return 0, io.EOF
	}
	return t.in.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	if t.Closed {
		t.mu.Unlock()
		return 0, ErrPortClosed
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		t.mu.Unlock()
		return 0, err
	}
	t.out.Write(p)
	hook := t.OnWrite
	t.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), p...))
	}
	return len(p), nil
}

// Close releases blocked readers. Every call is counted.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.CloseCalls++
	t.readable.Broadcast()
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter by recording the timeout.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// AddReadData queues bytes as if the device had sent them.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.in.Write(data)
	t.readable.Broadcast()
}

// GetWrittenData returns a copy of everything written so far.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.out.Bytes())
}

func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// MockSerialPortFactory hands out Port, or fails with Error, and records how
// it was asked.
type MockSerialPortFactory struct {
	mu        sync.Mutex
	Port      SerialPorter
	Error     error
	OpenCalls []MockOpenCall
}

// MockOpenCall is one recorded Open.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// LastCall returns the most recent Open, or nil before the first.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
