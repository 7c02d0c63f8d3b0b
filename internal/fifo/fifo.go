// Package fifo implements the single-producer, single-consumer byte ring that
// carries encoded samples from the sampling goroutine to the socket sender.
//
// The producer always owns a contiguous region of at least SingleBufferSize
// bytes. When the write cursor crosses the wrap threshold the tail of the ring
// is marked ragged and writing restarts at offset zero; the consumer treats the
// ragged end as the end of readable data until it catches up.
package fifo

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Default sizes used by the bridge.
const (
	DefaultSingleBufferSize = 1 << 15
	DefaultCapacity         = 1 << 20
)

// ErrClosed is returned by producer operations once the ring has been closed.
var ErrClosed = errors.New("fifo closed")

// Fifo is a byte ring with one producer and one consumer.
//
// The producer publishes the write cursor and the ragged end together in a
// single atomic word, so the consumer always sees a consistent pair. The read
// cursor is published separately and is only ever advanced by the consumer.
type Fifo struct {
	singleBufferSize int
	wrapThreshold    int
	buf              []byte

	// pub holds the write cursor in the low 32 bits and the ragged end in the
	// high 32 bits.
	pub  atomic.Uint64
	read atomic.Int64

	// consumer-local
	readCommit int

	end    atomic.Bool
	closed atomic.Bool

	readerReady    *semaphore
	spaceAvailable *semaphore
}

// New creates a ring of the given total capacity in which the producer can
// commit up to singleBufferSize bytes at a time.
func New(singleBufferSize, capacity int) (*Fifo, error) {
	if singleBufferSize <= 0 {
		return nil, fmt.Errorf("single buffer size must be positive, got %d", singleBufferSize)
	}
	if capacity <= 2*singleBufferSize {
		return nil, fmt.Errorf("capacity %d must exceed twice the single buffer size %d", capacity, singleBufferSize)
	}
	if capacity > 1<<31 {
		return nil, fmt.Errorf("capacity %d too large", capacity)
	}
	return &Fifo{
		singleBufferSize: singleBufferSize,
		wrapThreshold:    capacity - singleBufferSize,
		buf:              make([]byte, capacity),
		readerReady:      newSemaphore(),
		spaceAvailable:   newSemaphore(),
	}, nil
}

// SingleBufferSize is the largest commit the producer may make.
func (f *Fifo) SingleBufferSize() int { return f.singleBufferSize }

func pack(write, ragged int) uint64 {
	return uint64(uint32(ragged))<<32 | uint64(uint32(write))
}

func (f *Fifo) snapshot() (write, ragged int) {
	v := f.pub.Load()
	return int(uint32(v)), int(uint32(v >> 32))
}

// Reserve returns the region the producer fills before its next Commit. The
// region is always SingleBufferSize bytes long.
func (f *Fifo) Reserve() []byte {
	w, _ := f.snapshot()
	return f.buf[w : w+f.singleBufferSize]
}

// Commit publishes n bytes written into the reserved region and wakes the
// consumer exactly once. A commit of zero bytes marks the end of the stream.
// If the ring is now full, Commit blocks until the consumer releases space.
func (f *Fifo) Commit(n int) ([]byte, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	if n < 0 || n > f.singleBufferSize {
		return nil, fmt.Errorf("commit of %d bytes outside [0, %d]", n, f.singleBufferSize)
	}
	if n == 0 {
		f.end.Store(true)
	}

	for {
		old := f.pub.Load()
		w, ragged := int(uint32(old)), int(uint32(old>>32))
		w += n
		if w >= f.wrapThreshold {
			ragged = w
			w = 0
		}
		if f.pub.CompareAndSwap(old, pack(w, ragged)) {
			break
		}
	}

	f.readerReady.post()

	for f.willFill(0) {
		f.spaceAvailable.wait()
		if f.closed.Load() {
			return nil, ErrClosed
		}
	}
	return f.Reserve(), nil
}

// Write copies p into the ring, splitting it into commits of at most
// SingleBufferSize bytes. An empty p is ignored; use Commit(0) to end the
// stream.
func (f *Fifo) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		region := f.Reserve()
		n := copy(region, p)
		if _, err := f.Commit(n); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

func (f *Fifo) filled() (filled, write, read int) {
	w, ragged := f.snapshot()
	r := int(f.read.Load())
	return w - r + ragged, w, r
}

func (f *Fifo) willFill(additional int) bool {
	filled, w, r := f.filled()
	if w > r {
		return filled+additional >= f.wrapThreshold
	}
	return filled+additional >= f.wrapThreshold-f.singleBufferSize
}

func (f *Fifo) isEmpty() bool {
	w, ragged := f.snapshot()
	return int(f.read.Load()) == w && ragged == 0
}

// WaitData blocks until the producer has committed since the last WaitData
// returned. Each commit releases exactly one wait.
func (f *Fifo) WaitData() {
	f.readerReady.wait()
}

// Read returns the bytes committed since the last Release. It returns
// ok == false when nothing is available yet. Once the stream has ended and all
// data has been drained it returns an empty, non-nil slice with ok == true.
func (f *Fifo) Read() (data []byte, ok bool) {
	if f.isEmpty() {
		if f.end.Load() {
			return f.buf[:0], true
		}
		return nil, false
	}

	w, ragged := f.snapshot()
	commit := w
	if ragged != 0 {
		commit = ragged
	}
	r := int(f.read.Load())
	if commit < r {
		panic(fmt.Sprintf("fifo: read cursor %d beyond commit %d", r, commit))
	}
	f.readCommit = commit
	return f.buf[r:commit], true
}

// Release returns the bytes handed out by the last Read to the producer and
// wakes it exactly once.
func (f *Fifo) Release() {
	if f.readCommit >= f.wrapThreshold {
		for {
			old := f.pub.Load()
			if f.pub.CompareAndSwap(old, pack(int(uint32(old)), 0)) {
				break
			}
		}
		f.readCommit = 0
	}
	f.read.Store(int64(f.readCommit))
	f.spaceAvailable.post()
}

// Close aborts the ring. A producer blocked in Commit returns ErrClosed and a
// consumer blocked in WaitData is released.
func (f *Fifo) Close() {
	if f.closed.Swap(true) {
		return
	}
	f.end.Store(true)
	f.spaceAvailable.post()
	f.readerReady.post()
}

// State is a point-in-time view of the ring's cursors.
type State struct {
	Capacity  int  `json:"capacity"`
	Filled    int  `json:"filled"`
	Write     int  `json:"write"`
	Read      int  `json:"read"`
	RaggedEnd int  `json:"ragged_end"`
	Ended     bool `json:"ended"`
	Closed    bool `json:"closed"`
}

// Stats returns the current cursor positions. It is safe to call from any
// goroutine.
func (f *Fifo) Stats() State {
	w, ragged := f.snapshot()
	r := int(f.read.Load())
	return State{
		Capacity:  len(f.buf),
		Filled:    w - r + ragged,
		Write:     w,
		Read:      r,
		RaggedEnd: ragged,
		Ended:     f.end.Load(),
		Closed:    f.closed.Load(),
	}
}
