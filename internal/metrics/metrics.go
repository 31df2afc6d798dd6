package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finmodel_sessions_active",
		Help: "Sessions currently held in the store",
	})

	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finmodel_sessions_expired_total",
		Help: "Sessions removed by idle expiry",
	})

	PipelinesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_executions_active",
		Help: "Pipeline groups currently executing",
	})

	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Completed pipeline groups by outcome",
	}, []string{"group", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	}, []string{"stage"})

	GroupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_group_duration_seconds",
		Help:    "End-to-end latency of a pipeline group",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
	}, []string{"group"})

	StageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_retries_total",
		Help: "Stage attempts beyond the first",
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	QACorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qa_corrections_total",
		Help: "Targeted correction rounds requested by QA",
	})

	QAUnresolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qa_unresolved_total",
		Help: "Artifacts delivered with unresolved QA issues",
	})

	ReasoningFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reasoning_fallbacks_total",
		Help: "Analysis decisions taken by the deterministic rules",
	}, []string{"reason"})

	ReasoningDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reasoning_duration_seconds",
		Help:    "Reasoning collaborator latency",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	})

	DataSourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasource_requests_total",
		Help: "Data-source fetches by provider and outcome",
	}, []string{"provider", "outcome"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasource_cache_lookups_total",
		Help: "Provider cache lookups by result",
	}, []string{"result"})

	LogEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logbus_events_total",
		Help: "Published log events by status",
	}, []string{"status"})

	LogSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logbus_subscribers",
		Help: "Attached log stream subscribers",
	})
)
