package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	JoinAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tournament_join_attempts_total", Help: "Join attempts by outcome"},
		[]string{"outcome"},
	)
	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tournament_status_transitions_total", Help: "Applied tournament status transitions"},
		[]string{"to"},
	)
	ScoreSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tournament_score_submissions_total", Help: "Score submissions by outcome"},
		[]string{"outcome"},
	)
	PaymentInstructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tournament_payment_instructions_total", Help: "Payment instructions created and sent"},
		[]string{"kind", "stage"},
	)
	JobOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tournament_jobs_total", Help: "Processed jobs by type and outcome"},
		[]string{"type", "outcome"},
	)
	DeadLetteredJobs = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tournament_jobs_dead_total", Help: "Jobs moved to the dead-letter state"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "tournament_job_duration_seconds", Help: "Job handler latency", Buckets: prometheus.DefBuckets},
		[]string{"type"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tournament_cache_lookups_total", Help: "Cache lookups by view and result"},
		[]string{"view", "result"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			JoinAttempts, StatusTransitions, ScoreSubmissions, PaymentInstructions,
			JobOutcomes, DeadLetteredJobs, JobDuration, CacheLookups,
		)
	})
}
