// Package metrics exposes the service counters in the Prometheus format.
package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payproxy"

// Recorder holds the service counters.
type Recorder struct {
	gatherer              prometheus.Gatherer
	transmissionsRejected *prometheus.CounterVec
	callbackDecisions     *prometheus.CounterVec
	jobs                  *prometheus.CounterVec
	queueLength           *prometheus.GaugeVec
}

var (
	defaultRecorder     *Recorder
	defaultRecorderOnce sync.Once
)

// Default returns the process-wide recorder backed by its own registry.
func Default() *Recorder {
	defaultRecorderOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		defaultRecorder = NewRecorder(reg)
	})
	return defaultRecorder
}

// NewRecorder registers the counters with reg. Tests pass a fresh registry.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		transmissionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_rejected_total",
			Help:      "Inbound transmissions rejected as invalid, by pipeline",
		}, []string{"pipeline"}),
		callbackDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_decisions_total",
			Help:      "Processor callbacks recorded, by request kind and decision",
		}, []string{"kind", "decision"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Background jobs finished, by type and final status",
		}, []string{"type", "status"}),
		queueLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_length",
			Help:      "Jobs waiting in or being processed from the Redis queue",
		}, []string{"list"}),
	}
}

func (r *Recorder) TransmissionRejected(pipeline string) {
	r.transmissionsRejected.WithLabelValues(pipeline).Inc()
}

func (r *Recorder) CallbackDecision(kind, decision string) {
	r.callbackDecisions.WithLabelValues(kind, decision).Inc()
}

func (r *Recorder) JobFinished(jobType, status string) {
	r.jobs.WithLabelValues(jobType, status).Inc()
}

func (r *Recorder) QueueLength(list string, n int64) {
	r.queueLength.WithLabelValues(list).Set(float64(n))
}

// Handler serves the registry for scraping.
func (r *Recorder) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
}
