package monitor

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/caiman/internal/session"
	"github.com/banshee-data/caiman/internal/timeutil"
)

// Default history shape: one kept sample in 100 at 10 kHz is 100 Hz, so 600
// entries cover the last six seconds.
const (
	DefaultHistoryDepth = 600
	DefaultDecimation   = 100
)

// Sample is one retained value with the time it was decoded.
type Sample struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

type series struct {
	buf  []Sample
	next int
	full bool
	seen int
}

func (s *series) add(v Sample) {
	s.buf[s.next] = v
	s.next++
	if s.next == len(s.buf) {
		s.next = 0
		s.full = true
	}
}

func (s *series) ordered() []Sample {
	if !s.full {
		return append([]Sample(nil), s.buf[:s.next]...)
	}
	out := make([]Sample, 0, len(s.buf))
	out = append(out, s.buf[s.next:]...)
	return append(out, s.buf[:s.next]...)
}

// SampleHistory keeps the most recent decimated samples of every source.
type SampleHistory struct {
	mu     sync.Mutex
	clock  timeutil.Clock
	every  int
	labels []string
	series []series
}

// NewSampleHistory returns a history with one series per label, keeping
// depth entries and one sample out of every decimation.
func NewSampleHistory(labels []string, depth, decimation int, clock timeutil.Clock) *SampleHistory {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	if decimation <= 0 {
		decimation = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	h := &SampleHistory{
		clock:  clock,
		every:  decimation,
		labels: append([]string(nil), labels...),
		series: make([]series, len(labels)),
	}
	for i := range h.series {
		h.series[i].buf = make([]Sample, depth)
	}
	return h
}

// CounterLabels names each source of sess, e.g. "ch0 Power".
func CounterLabels(sess *session.Session) []string {
	counters := sess.Counters()
	labels := make([]string, len(counters))
	for i, c := range counters {
		labels[i] = fmt.Sprintf("ch%d %s", c.Channel, c.Field)
	}
	return labels
}

// Add records value for source. Unknown sources are ignored.
func (h *SampleHistory) Add(source int, value uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if source < 0 || source >= len(h.series) {
		return
	}
	s := &h.series[source]
	s.seen++
	if (s.seen-1)%h.every != 0 {
		return
	}
	s.add(Sample{At: h.clock.Now(), Value: float64(value)})
}

// Labels returns the source names in source order.
func (h *SampleHistory) Labels() []string {
	return append([]string(nil), h.labels...)
}

// Samples returns the retained samples of source, oldest first.
func (h *SampleHistory) Samples(source int) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	if source < 0 || source >= len(h.series) {
		return nil
	}
	return h.series[source].ordered()
}

// Summary describes the retained samples of one source.
type Summary struct {
	Source int     `json:"source"`
	Label  string  `json:"label"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summaries computes per-source statistics over the retained window.
func (h *SampleHistory) Summaries() []Summary {
	out := make([]Summary, len(h.labels))
	for i, label := range h.labels {
		samples := h.Samples(i)
		out[i] = Summary{Source: i, Label: label, Count: len(samples)}
		if len(samples) == 0 {
			continue
		}
		values := make([]float64, len(samples))
		for j, s := range samples {
			values[j] = s.Value
		}
		out[i].Mean = stat.Mean(values, nil)
		if len(values) > 1 {
			out[i].StdDev = stat.StdDev(values, nil)
		}
		out[i].Min = floats.Min(values)
		out[i].Max = floats.Max(values)
	}
	return out
}
