// Package metrics records step runs and live reload activity.
//
// Callers depend on Recorder and receive NoopRecorder unless metrics are
// enabled in the configuration, in which case a PrometheusRecorder backs the
// dev server's /__wisp/metrics endpoint.
package metrics

import (
	"net/http"
	"time"
)

// Recorder defines the observability hooks used by the orchestrator and the dev server.
type Recorder interface {
	ObserveStep(step string, status string, d time.Duration, written int)
	SetLiveReloadClients(n int)
	IncLiveReloadBroadcast()
	Handler() http.Handler
}

// NoopRecorder is a Recorder that does nothing (default when metrics are off).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStep(string, string, time.Duration, int) {}
func (NoopRecorder) SetLiveReloadClients(int)                       {}
func (NoopRecorder) IncLiveReloadBroadcast()                        {}
func (NoopRecorder) Handler() http.Handler                          { return http.NotFoundHandler() }

// New returns a Prometheus recorder on a fresh registry, or NoopRecorder when disabled
func New(enabled bool) Recorder {
	if !enabled {
		return NoopRecorder{}
	}
	return NewPrometheusRecorder(nil)
}
