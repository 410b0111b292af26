package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sleep"

var (
	// ClockIns counts clock-in attempts by result: created, conflict, error.
	ClockIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clock_ins_total",
		Help:      "Total number of clock-in attempts by result",
	}, []string{"result"})

	ClockOuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clock_outs_total",
		Help:      "Total number of clock-out attempts by result",
	}, []string{"result"})

	// AutoCompletions counts auto-complete invocations by outcome:
	// completed, not_active, too_early, missing.
	AutoCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auto_completions_total",
		Help:      "Total number of auto-complete invocations by outcome",
	}, []string{"outcome"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_jobs_total",
		Help:      "Total number of scheduler jobs handled by outcome",
	}, []string{"outcome"})

	// JobLag is the delay between a job becoming due and a worker running it.
	JobLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_job_lag_seconds",
		Help:      "Seconds between a job's due time and its execution",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduler_queue_depth",
		Help:      "Number of jobs in each queue state",
	}, []string{"state"})

	RecoveredJobs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_recovered_jobs_total",
		Help:      "Total number of in-flight jobs returned to the delayed set after their visibility deadline",
	})
)

func RecordClockIn(result string) {
	ClockIns.WithLabelValues(result).Inc()
}

func RecordClockOut(result string) {
	ClockOuts.WithLabelValues(result).Inc()
}

func RecordAutoCompletion(outcome string) {
	AutoCompletions.WithLabelValues(outcome).Inc()
}

func RecordJob(outcome string, lagSeconds float64) {
	JobsProcessed.WithLabelValues(outcome).Inc()
	if lagSeconds >= 0 {
		JobLag.Observe(lagSeconds)
	}
}

func SetQueueDepth(delayed, inflight, dead int64) {
	QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	QueueDepth.WithLabelValues("inflight").Set(float64(inflight))
	QueueDepth.WithLabelValues("dead").Set(float64(dead))
}
