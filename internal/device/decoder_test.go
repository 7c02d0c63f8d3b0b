package device

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	writes [][]byte
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.writes = append(s.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *recordingSink) all() []byte {
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

func (s *recordingSink) values() []uint32 {
	b := s.all()
	out := make([]uint32, 0, len(b)/4)
	for i := 0; i+4 <= len(b); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(b[i:]))
	}
	return out
}

type logRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (l *logRecorder) logf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func (l *logRecorder) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

type countingObserver struct {
	samples   int
	missing   int
	overflows int
}

func (o *countingObserver) SampleDecoded(int, uint32) { o.samples++ }
func (o *countingObserver) FramesMissing(n int)       { o.missing += n }
func (o *countingObserver) Overflow()                 { o.overflows++ }

// frames encodes (seq, values...) tuples as the probe sends them.
func frames(fs ...[]uint16) []byte {
	var out []byte
	for _, f := range fs {
		for _, w := range f {
			out = binary.LittleEndian.AppendUint16(out, w)
		}
	}
	return out
}

func TestDecoder_ScalesValues(t *testing.T) {
	sink := &recordingSink{}
	obs := &countingObserver{}
	d := NewDecoder([]float64{5, 1, 5}, sink, nil, obs)

	require.NoError(t, d.Decode(frames([]uint16{0, 10, 20, 30}, []uint16{1, 1, 2, 3})))
	assert.Equal(t, []uint32{50, 20, 150, 5, 2, 15}, sink.values())
	assert.Equal(t, 6, obs.samples)
	assert.Len(t, sink.writes, 1, "one flush at end of chunk")
}

func TestDecoder_GapReplaysLastValues(t *testing.T) {
	sink := &recordingSink{}
	logs := &logRecorder{}
	obs := &countingObserver{}
	d := NewDecoder([]float64{1, 1}, sink, logs.logf, obs)

	require.NoError(t, d.Decode(frames([]uint16{0, 1, 2}, []uint16{3, 5, 6})))
	assert.Equal(t, []uint32{1, 2, 1, 2, 1, 2, 5, 6}, sink.values())
	assert.Equal(t, 1, logs.count("Missing frames 1-3 (2 frames)"))
	assert.Equal(t, 2, obs.missing)
}

func TestDecoder_GapSingleField(t *testing.T) {
	sink := &recordingSink{}
	d := NewDecoder([]float64{1}, sink, nil, nil)

	require.NoError(t, d.Decode(frames([]uint16{5, 50}, []uint16{6, 60}, []uint16{9, 90})))
	assert.Equal(t, []uint32{50, 60, 60, 60, 90}, sink.values())
}

func TestDecoder_FirstFrameSetsSequence(t *testing.T) {
	sink := &recordingSink{}
	logs := &logRecorder{}
	d := NewDecoder([]float64{1}, sink, logs.logf, nil)

	require.NoError(t, d.Decode(frames([]uint16{500, 7}, []uint16{501, 8})))
	assert.Equal(t, []uint32{7, 8}, sink.values())
	assert.Empty(t, logs.msgs)
}

func TestDecoder_SequenceWraps(t *testing.T) {
	sink := &recordingSink{}
	logs := &logRecorder{}
	d := NewDecoder([]float64{1}, sink, logs.logf, nil)

	require.NoError(t, d.Decode(frames([]uint16{0xFFFE, 1}, []uint16{0xFFFF, 2}, []uint16{0, 3})))
	assert.Equal(t, []uint32{1, 2, 3}, sink.values())
	assert.Empty(t, logs.msgs)
}

func TestDecoder_FrameSplitAcrossChunks(t *testing.T) {
	sink := &recordingSink{}
	d := NewDecoder([]float64{1, 1, 1}, sink, nil, nil)

	b := frames([]uint16{0, 1, 2, 3}, []uint16{1, 4, 5, 6})
	require.NoError(t, d.Decode(b[:6]))
	require.NoError(t, d.Decode(b[6:]))
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6}, sink.values())
}

func TestDecoder_FlushesWhenStagingFills(t *testing.T) {
	sink := &recordingSink{}
	d := NewDecoder([]float64{1, 1, 1}, sink, nil, nil)

	// A 20-frame gap replays 240 bytes.
	require.NoError(t, d.Decode(frames([]uint16{0, 1, 2, 3}, []uint16{21, 4, 5, 6})))
	for _, w := range sink.writes {
		assert.LessOrEqual(t, len(w), StagingSize)
	}
	assert.Greater(t, len(sink.writes), 1)
	assert.Len(t, sink.values(), 3+20*3+3)
}

func TestDecoder_OverflowLoggedOnce(t *testing.T) {
	sink := &recordingSink{}
	logs := &logRecorder{}
	obs := &countingObserver{}
	d := NewDecoder([]float64{1e6}, sink, logs.logf, obs)

	require.NoError(t, d.Decode(frames([]uint16{0, 0xFFFF}, []uint16{1, 0xFFFF})))
	assert.Equal(t, []uint32{MaxSampleValue, MaxSampleValue}, sink.values())
	assert.Equal(t, 1, logs.count("Power overflow detected"))
	assert.Equal(t, 2, obs.overflows)
}

func TestDecoder_MisalignedLength(t *testing.T) {
	sink := &recordingSink{}
	logs := &logRecorder{}
	d := NewDecoder([]float64{1}, sink, logs.logf, nil)

	require.NoError(t, d.Decode(append(frames([]uint16{0, 9}), 0x01)))
	assert.Equal(t, []uint32{9}, sink.values())
	assert.Equal(t, 1, logs.count("INVESTIGATE: misaligned length"))
}

func TestDecoder_EmptyChunkWritesNothing(t *testing.T) {
	sink := &recordingSink{}
	d := NewDecoder([]float64{1}, sink, nil, nil)
	require.NoError(t, d.Decode(nil))
	assert.Empty(t, sink.writes)
}

func TestScaleSample(t *testing.T) {
	tests := []struct {
		name     string
		raw      uint16
		factor   float64
		want     uint32
		overflow bool
	}{
		{"unity", 1234, 1, 1234, false},
		{"power 20 mOhm", 200, 5, 1000, false},
		{"truncates", 3, 0.5, 1, false},
		{"overflow", 0xFFFF, 1e6, MaxSampleValue, true},
		{"negative", 10, -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, overflow := ScaleSample(tt.raw, tt.factor)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.overflow, overflow)
		})
	}
}
