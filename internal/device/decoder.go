package device

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/banshee-data/caiman/internal/monitoring"
)

// StagingSize is the output staging buffer size; encoded values are flushed to
// the sink whenever it fills and at the end of each chunk.
const StagingSize = 2 * ChunkSize

// Decoder turns the probe's frame stream into scaled 4-byte samples. A frame
// is a 16-bit sequence number followed by one 16-bit raw value per field.
// State carries across chunks, so a frame may straddle two reads.
type Decoder struct {
	numFields int
	scale     []float64
	sink      io.Writer
	logf      monitoring.LogFunc
	observer  Observer

	remaining      int
	expected       uint16
	synced         bool
	last           [][DataSize]byte
	out            []byte
	overflowLogged bool
}

// NewDecoder returns a decoder for len(scale) fields per frame. Scaled values
// are written to sink.
func NewDecoder(scale []float64, sink io.Writer, logf monitoring.LogFunc, observer Observer) *Decoder {
	return &Decoder{
		numFields: len(scale),
		scale:     append([]float64(nil), scale...),
		sink:      sink,
		logf:      monitoring.OrDiscard(logf),
		observer:  observerOrNoop(observer),
		last:      make([][DataSize]byte, len(scale)),
		out:       make([]byte, 0, StagingSize),
	}
}

// Decode consumes one chunk read from the device.
func (d *Decoder) Decode(in []byte) error {
	loc := 0
	for loc+2 <= len(in) {
		word := binary.LittleEndian.Uint16(in[loc:])
		loc += 2

		if d.remaining == 0 {
			if err := d.beginFrame(word); err != nil {
				return err
			}
			continue
		}

		idx := d.numFields - d.remaining
		value, overflow := ScaleSample(word, d.scale[idx])
		if overflow {
			d.observer.Overflow()
			if !d.overflowLogged {
				d.overflowLogged = true
				d.logf("Power overflow detected")
			}
		}
		d.observer.SampleDecoded(idx, value)
		binary.LittleEndian.PutUint32(d.last[idx][:], value)
		d.remaining--
		if err := d.emit(d.last[idx][:]); err != nil {
			return err
		}
	}

	if loc != len(in) {
		d.logf("INVESTIGATE: misaligned length")
	}
	return d.flush()
}

func (d *Decoder) beginFrame(seq uint16) error {
	if !d.synced {
		d.expected = seq
		d.synced = true
	}
	if d.expected != seq {
		gap := seq - d.expected
		d.logf("Missing frames %d-%d (%d frames)", d.expected, seq, gap)
		d.observer.FramesMissing(int(gap))
		for d.expected != seq {
			d.expected++
			for i := range d.last {
				if err := d.emit(d.last[i][:]); err != nil {
					return err
				}
			}
		}
	}
	d.expected++
	d.remaining = d.numFields
	return nil
}

func (d *Decoder) emit(value []byte) error {
	d.out = append(d.out, value...)
	if len(d.out) >= StagingSize {
		return d.flush()
	}
	return nil
}

func (d *Decoder) flush() error {
	if len(d.out) == 0 {
		return nil
	}
	_, err := d.sink.Write(d.out)
	d.out = d.out[:0]
	return err
}

// ScaleSample multiplies a raw reading by factor and clamps the result to
// [0, MaxSampleValue]. The second result reports whether clamping occurred.
func ScaleSample(raw uint16, factor float64) (uint32, bool) {
	v := float64(raw) * factor
	switch {
	case math.IsNaN(v) || v < 0:
		return 0, true
	case v > MaxSampleValue:
		return MaxSampleValue, true
	}
	return uint32(int64(v)), false
}
