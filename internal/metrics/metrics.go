package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelinesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_pipelines_started_total",
			Help: "Total number of research pipelines started",
		},
		[]string{"backend"},
	)

	PipelinesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_pipelines_completed_total",
			Help: "Total number of research pipelines completed",
		},
		[]string{"backend", "status"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colloquy_pipeline_duration_seconds",
			Help:    "Pipeline execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Subtask metrics
	SubtasksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_subtasks_executed_total",
			Help: "Total number of subtasks executed",
		},
		[]string{"status"},
	)

	SubtaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "colloquy_subtask_duration_seconds",
			Help:    "Subtask execution duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	DialogueTurns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "colloquy_dialogue_turns_total",
			Help: "Total number of dialogue turns executed",
		},
	)

	// Plan metrics
	PlanAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "colloquy_plan_generation_attempts_total",
			Help: "Total number of plan generation attempts",
		},
	)

	PlanValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "colloquy_plan_validation_failures_total",
			Help: "Total number of rejected generated plans",
		},
	)

	// Critique metrics
	RedFlagsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_red_flags_raised_total",
			Help: "Total number of red flags raised by review passes",
		},
		[]string{"severity"},
	)

	CritiqueParseWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "colloquy_critique_parse_warnings_total",
			Help: "Total number of malformed critique blocks dropped",
		},
	)

	UnresolvedCriticalFlags = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "colloquy_unresolved_critical_flags_total",
			Help: "Total number of critical flags left unresolved at pipeline completion",
		},
	)

	// Invocation metrics
	SpecialistInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_specialist_invocations_total",
			Help: "Total number of specialist invocations",
		},
		[]string{"backend", "status"},
	)

	InvocationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "colloquy_invocation_retries_total",
			Help: "Total number of retried specialist invocations",
		},
	)

	// Consensus metrics
	ConsensusRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_consensus_runs_total",
			Help: "Total number of consensus child runs",
		},
		[]string{"backend", "status"},
	)

	ConsensusAgreement = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "colloquy_consensus_agreement_score",
			Help:    "Pairwise agreement scores across consensus runs",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1.0},
		},
	)
)

// RecordPipeline records metrics for a completed pipeline.
func RecordPipeline(backend, status string, durationSeconds float64) {
	PipelinesCompleted.WithLabelValues(backend, status).Inc()
	PipelineDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordFlags records extraction results for one critique pass.
func RecordFlags(severityCounts map[string]int, parseWarnings int) {
	for severity, n := range severityCounts {
		RedFlagsRaised.WithLabelValues(severity).Add(float64(n))
	}
	if parseWarnings > 0 {
		CritiqueParseWarnings.Add(float64(parseWarnings))
	}
}
