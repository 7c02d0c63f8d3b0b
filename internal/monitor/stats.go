// Package monitor collects bridge and device counters and serves them, with a
// short sample history, on the optional debug listener.
package monitor

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/caiman/internal/fifo"
	"github.com/banshee-data/caiman/internal/protocol"
)

const namespace = "caiman"

// Stats implements device.Observer and bridge.Metrics.
type Stats struct {
	registry *prometheus.Registry
	history  *SampleHistory

	frames    *prometheus.CounterVec
	apcBytes  prometheus.Counter
	commands  *prometheus.CounterVec
	samples   prometheus.Counter
	missing   prometheus.Counter
	overflows prometheus.Counter

	decoded atomic.Uint64
}

// NewStats registers the counters in a private registry. history may be nil.
func NewStats(history *SampleHistory) *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),
		history:  history,
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames sent to the host by response type.",
		}, []string{"type"}),
		apcBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apc_data_bytes_total",
			Help:      "Sample bytes sent to the host in APC_DATA frames.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_received_total",
			Help:      "Commands received from the host by type.",
		}, []string{"command"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_decoded_total",
			Help:      "Sample values decoded from the device.",
		}),
		missing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_missing_total",
			Help:      "Device frames lost and replayed from the last values.",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_overflows_total",
			Help:      "Sample values clamped to the encodable range.",
		}),
	}
	s.registry.MustRegister(s.frames, s.apcBytes, s.commands, s.samples, s.missing, s.overflows)
	return s
}

// Registry exposes the counters for scraping.
func (s *Stats) Registry() *prometheus.Registry { return s.registry }

// History returns the sample history, or nil.
func (s *Stats) History() *SampleHistory { return s.history }

// WatchFifo exports the fill level reported by state as a gauge.
func (s *Stats) WatchFifo(state func() fifo.State) {
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fifo_filled_bytes",
		Help:      "Bytes committed to the ring buffer and not yet sent.",
	}, func() float64 { return float64(state().Filled) }))
}

// Decoded returns the number of samples decoded so far.
func (s *Stats) Decoded() uint64 { return s.decoded.Load() }

func (s *Stats) SampleDecoded(source int, value uint32) {
	s.samples.Inc()
	s.decoded.Add(1)
	if s.history != nil {
		s.history.Add(source, value)
	}
}

func (s *Stats) FramesMissing(n int) { s.missing.Add(float64(n)) }
func (s *Stats) Overflow()           { s.overflows.Inc() }

func (s *Stats) FrameSent(typ protocol.ResponseType, payloadBytes int) {
	s.frames.WithLabelValues(typ.String()).Inc()
	if typ == protocol.ResponseAPCData {
		s.apcBytes.Add(float64(payloadBytes))
	}
}

func (s *Stats) CommandReceived(typ protocol.CommandType) {
	s.commands.WithLabelValues(typ.String()).Inc()
}
