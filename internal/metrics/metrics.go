// Package metrics exports scheduler activity in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitdelayed/internal/core"
)

const namespace = "gitdelayed"

// Recorder implements core.Recorder on a private registry.
type Recorder struct {
	registry *prom.Registry

	executions *prom.CounterVec
	duration   *prom.HistogramVec
	ticks      prom.Counter
	due        prom.Gauge
	corrupt    prom.Gauge
	deferred   prom.Counter
}

// New builds a recorder. Go runtime and process collectors are included when
// withRuntime is set.
func New(withRuntime bool) *Recorder {
	r := &Recorder{
		registry: prom.NewRegistry(),
		executions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "executions_total",
			Help: "Operation execution attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
		duration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace, Name: "execution_duration_seconds",
			Help:    "Wall time of one execution attempt",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"kind"}),
		ticks: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Polling passes over the operation store",
		}),
		due: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace, Name: "last_tick_due_operations",
			Help: "Operations found due in the most recent tick",
		}),
		corrupt: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace, Name: "corrupt_records",
			Help: "Undecodable operation records seen in the most recent tick",
		}),
		deferred: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace, Name: "deferred_operations_total",
			Help: "Due operations left for a later run because shutdown was requested",
		}),
	}
	r.registry.MustRegister(r.executions, r.duration, r.ticks, r.due, r.corrupt, r.deferred)
	if withRuntime {
		r.registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	}
	return r
}

func (r *Recorder) ObserveExecution(kind core.OperationKind, outcome core.ExecutionOutcome, elapsed time.Duration) {
	r.executions.WithLabelValues(string(kind), string(outcome)).Inc()
	r.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveTick(report core.TickReport) {
	r.ticks.Inc()
	r.due.Set(float64(report.Due))
	r.corrupt.Set(float64(report.Corrupt))
	r.deferred.Add(float64(report.Deferred))
}

// Handler serves the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
