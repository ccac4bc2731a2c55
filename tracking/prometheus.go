package tracking

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

// Prometheus exports the latest metrics of each run as gauges, and counts finished runs.
type Prometheus struct {
	Registry *prometheus.Registry

	metric *prometheus.GaugeVec
	step   *prometheus.GaugeVec
	runs   *prometheus.CounterVec
	run    RunInfo
}

var _ Sink = (*Prometheus)(nil)

// NewPrometheus creates the collectors in a new registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Prometheus{
		Registry: reg,
		metric: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pathwaygnn_metric",
				Help: "Latest value of a training metric of a run",
			},
			[]string{"sweep", "run", "metric"},
		),
		step: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pathwaygnn_step",
				Help: "Latest step (epoch) logged by a run",
			},
			[]string{"sweep", "run"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pathwaygnn_runs_total",
				Help: "Number of finished runs, by status",
			},
			[]string{"sweep", "status"},
		),
	}
}

// Start implements Sink.
func (p *Prometheus) Start(run RunInfo) error {
	p.run = run
	return nil
}

// Log implements Sink.
func (p *Prometheus) Log(step int, metrics map[string]float64) error {
	p.step.WithLabelValues(p.run.Sweep, p.run.ID).Set(float64(step))
	for name, value := range metrics {
		p.metric.WithLabelValues(p.run.Sweep, p.run.ID, name).Set(value)
	}
	return nil
}

// Finish implements Sink.
func (p *Prometheus) Finish(summary map[string]float64, runErr error) error {
	status := "ok"
	if runErr != nil {
		status = "failed"
	}
	p.runs.WithLabelValues(p.run.Sweep, status).Inc()
	for name, value := range summary {
		p.metric.WithLabelValues(p.run.Sweep, p.run.ID, "best_"+name).Set(value)
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

// Serve starts serving /metrics on addr in the background. Errors after startup are logged.
func (p *Prometheus) Serve(addr string) (*http.Server, error) {
	if addr == "" {
		return nil, errors.New("empty metrics address")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("Metrics server on %q: %v", addr, err)
		}
	}()
	klog.Infof("Serving metrics on http://%s/metrics", addr)
	return server, nil
}
