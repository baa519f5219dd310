package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tableqa/internal/errs"
	"tableqa/internal/repair"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_questions_total",
			Help: "Questions handled, by outcome.",
		},
		[]string{"outcome"},
	)
	questionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tableqa_question_duration_seconds",
			Help:    "End to end question latency.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"outcome"},
	)
	questionAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tableqa_question_repair_attempts",
			Help:    "Repair rounds spent per question.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 10},
		},
	)
	repairRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tableqa_repair_rounds_total",
			Help: "Repair rounds requested from the chat model.",
		},
	)
	extractionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_extraction_failures_total",
			Help: "Model replies without a fenced query, by stage.",
		},
		[]string{"stage"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tableqa_query_duration_seconds",
			Help:    "Candidate query execution latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	modelCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tableqa_model_call_duration_seconds",
			Help:    "Model call latency by call kind and error kind.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"kind", "status"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tableqa_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		questionDurationSeconds,
		questionAttempts,
		repairRoundsTotal,
		extractionFailuresTotal,
		queryDurationSeconds,
		modelCallDurationSeconds,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Questions records finished questions. It satisfies orchestrator.Observer.
type Questions struct{}

func (Questions) ObserveQuestion(outcome string, attempts int, elapsed time.Duration) {
	questionsTotal.WithLabelValues(outcome).Inc()
	questionDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome != "error" {
		questionAttempts.Observe(float64(attempts))
	}
}

// RepairHooks feeds loop events into the metrics. When next is non-nil its
// hooks run after the metrics are updated.
func RepairHooks(next *repair.Hooks) repair.Hooks {
	return repair.Hooks{
		Transition: func(from, to repair.State) {
			if next != nil && next.Transition != nil {
				next.Transition(from, to)
			}
		},
		Executed: func(elapsed time.Duration, ok bool) {
			result := "failure"
			if ok {
				result = "success"
			}
			queryDurationSeconds.WithLabelValues(result).Observe(elapsed.Seconds())
			if next != nil && next.Executed != nil {
				next.Executed(elapsed, ok)
			}
		},
		RepairRound: func(attempt int) {
			repairRoundsTotal.Inc()
			if next != nil && next.RepairRound != nil {
				next.RepairRound(attempt)
			}
		},
		ExtractionFailed: func(stage string) {
			extractionFailuresTotal.WithLabelValues(stage).Inc()
			if next != nil && next.ExtractionFailed != nil {
				next.ExtractionFailed(stage)
			}
		},
	}
}

// ObserveModelCall matches llm.Observer.
func ObserveModelCall(kind string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = string(errs.KindOf(err))
		if status == "" {
			status = "error"
		}
	}
	modelCallDurationSeconds.WithLabelValues(kind, status).Observe(elapsed.Seconds())
}

func observeHTTP(method, path string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}
