package monitor

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/caiman/internal/fifo"
	"github.com/banshee-data/caiman/internal/httputil"
	"github.com/banshee-data/caiman/internal/timeutil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachAdminRoutes mounts the debug pages under /debug/ on mux. fifoState
// may be nil in local mode.
func (s *Stats) AttachAdminRoutes(mux *http.ServeMux, sessionID string, fifoState func() fifo.State) {
	debug := tsweb.Debugger(mux)
	debug.KV("Session", sessionID)
	debug.KVFunc("Samples decoded", func() any { return s.Decoded() })

	debug.Handle("prometheus", "Bridge and device counters (Prometheus format)",
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	if fifoState != nil {
		s.WatchFifo(fifoState)
		debug.KVFunc("FIFO filled", func() any { return fifoState().Filled })
		debug.HandleFunc("fifo", "Ring buffer cursors (JSON)", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, fifoState())
		})
	}

	if s.history == nil {
		return
	}
	debug.HandleFunc("sample-stats", "Summary of recent samples per source (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.history.Summaries())
	})
	debug.HandleFunc("samples", "Chart of recent samples per source", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteHTML(w, func(out io.Writer) error {
			return renderSamples(out, s.history, s.history.clock)
		})
	})
}

// renderSamples draws one line per source. The x axis is the age in seconds
// of the longest series' samples.
func renderSamples(w io.Writer, h *SampleHistory, clock timeutil.Clock) error {
	labels := h.Labels()
	all := make([][]Sample, len(labels))
	longest := 0
	for i := range labels {
		all[i] = h.Samples(i)
		if len(all[i]) > len(all[longest]) {
			longest = i
		}
	}

	var xs []string
	if len(all) > 0 {
		for _, s := range all[longest] {
			xs = append(xs, fmt.Sprintf("%.2f", -clock.Since(s.At).Seconds()))
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "caiman samples", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Recent samples", Subtitle: fmt.Sprintf("sources=%d points=%d", len(labels), len(xs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "age (s)", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(xs)
	for i, label := range labels {
		data := make([]opts.LineData, len(all[i]))
		for j, s := range all[i] {
			data[j] = opts.LineData{Value: s.Value}
		}
		line.AddSeries(label, data)
	}
	return line.Render(w)
}
