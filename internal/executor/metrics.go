package executor

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks Prometheus metrics for executors.
//
// All metrics use the "offload_executor_" prefix and carry an "executor"
// label with the executor name. Methods handle a nil receiver, so a nil
// *Metrics is a no-op when metrics are disabled.
type Metrics struct {
	// Submitted counts tasks accepted by PutTask
	Submitted *prometheus.CounterVec
	// Results counts results consumed by callers
	Results *prometheus.CounterVec
	// Requeued counts results put back for another caller
	Requeued *prometheus.CounterVec
	// Running tracks submitted minus consumed tasks
	Running *prometheus.GaugeVec
	// WorkerUp is 1 while the worker is alive
	WorkerUp *prometheus.GaugeVec
	// TaskDuration tracks target execution time by outcome. It is observed
	// where the target runs, so a subprocess worker does not report it.
	// Labels: executor, result=[true, false]
	TaskDuration *prometheus.HistogramVec
}

// NewMetrics creates executor metrics and registers them with reg. If reg is
// nil, prometheus.DefaultRegisterer is used. Collectors that are already
// registered are reused, so calling NewMetrics twice against the same
// registerer is safe.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offload_executor_tasks_submitted_total",
			Help: "Tasks submitted to the executor.",
		}, []string{"executor"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offload_executor_results_total",
			Help: "Results consumed from the executor.",
		}, []string{"executor"}),
		Requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offload_executor_results_requeued_total",
			Help: "Results returned to the queue for another caller.",
		}, []string{"executor"}),
		Running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "offload_executor_tasks_running",
			Help: "Tasks submitted but not yet consumed.",
		}, []string{"executor"}),
		WorkerUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "offload_executor_worker_up",
			Help: "Whether the executor worker is alive.",
		}, []string{"executor"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "offload_executor_task_duration_seconds",
			Help:    "Time spent in the target function per task.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"executor", "result"}),
	}

	m.Submitted = register(reg, m.Submitted)
	m.Results = register(reg, m.Results)
	m.Requeued = register(reg, m.Requeued)
	m.Running = register(reg, m.Running)
	m.WorkerUp = register(reg, m.WorkerUp)
	m.TaskDuration = register(reg, m.TaskDuration)

	return m
}

// register registers c, returning the existing collector when an identical
// one is already registered
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) taskSubmitted(name string) {
	if m == nil {
		return
	}
	m.Submitted.WithLabelValues(name).Inc()
}

func (m *Metrics) resultConsumed(name string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(name).Inc()
}

func (m *Metrics) resultRequeued(name string) {
	if m == nil {
		return
	}
	m.Requeued.WithLabelValues(name).Inc()
}

func (m *Metrics) setRunning(name string, n int64) {
	if m == nil {
		return
	}
	m.Running.WithLabelValues(name).Set(float64(n))
}

func (m *Metrics) setWorkerUp(name string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.WorkerUp.WithLabelValues(name).Set(v)
}

func (m *Metrics) observeTask(name string, result bool, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskDuration.WithLabelValues(name, strconv.FormatBool(result)).Observe(d.Seconds())
}
