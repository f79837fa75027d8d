package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wisp"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry     *prom.Registry
	stepRuns     *prom.CounterVec
	stepDuration *prom.HistogramVec
	filesWritten *prom.CounterVec
	clients      prom.Gauge
	broadcasts   prom.Counter
}

// NewPrometheusRecorder constructs and registers the wisp metrics on reg.
// A nil registry gets a private one so several recorders can coexist in tests.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		stepRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "step_runs_total",
			Help:      "Step runs by step and final status",
		}, []string{"step", "status"}),
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual step runs",
			Buckets:   prom.DefBuckets,
		}, []string{"step"}),
		filesWritten: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "files_written_total",
			Help:      "Files written into the build root",
		}, []string{"step"}),
		clients: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "livereload_clients",
			Help:      "Connected live reload clients",
		}),
		broadcasts: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "livereload_broadcasts_total",
			Help:      "Reload events sent to clients",
		}),
	}
	reg.MustRegister(pr.stepRuns, pr.stepDuration, pr.filesWritten, pr.clients, pr.broadcasts)
	return pr
}

func (p *PrometheusRecorder) ObserveStep(step string, status string, d time.Duration, written int) {
	if p == nil {
		return
	}
	p.stepRuns.WithLabelValues(step, status).Inc()
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if written > 0 {
		p.filesWritten.WithLabelValues(step).Add(float64(written))
	}
}

func (p *PrometheusRecorder) SetLiveReloadClients(n int) {
	if p == nil {
		return
	}
	p.clients.Set(float64(n))
}

func (p *PrometheusRecorder) IncLiveReloadBroadcast() {
	if p == nil {
		return
	}
	p.broadcasts.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry for gathering in tests
func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.registry
}
