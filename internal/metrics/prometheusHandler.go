package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "Total number of requests labelled by path and status",
}, []string{"path", "status"})

var countJobsInQueue = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "count_jobs_in_queue",
	Help: "Number of extraction runs waiting for a worker",
})

var dispatcherSignalCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dispatcher_signal_count",
	Help: "How often the dispatcher has been asked to start a worker",
})

var activeWorkerCount = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "active_worker_count",
	Help: "Number of active workers",
})

var roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "extraction_rounds_total",
	Help: "Extraction rounds completed, labelled by priority and outcome",
}, []string{"priority", "outcome"})

var questionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "extraction_questions_total",
	Help: "Questions asked to the engine, labelled by outcome",
}, []string{"outcome"})

var alignmentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "alignment_fields_total",
	Help: "Template fields processed by the page aligner, labelled by outcome",
}, []string{"outcome"})

var templateMatchScore = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "template_match_best_score",
	Help:    "Best template score per match request",
	Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1, 1.3},
})

var cachedDocuments = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "cached_documents",
	Help: "Page images held in memory for runs and review sessions",
})

func SetCachedDocuments(n int) { cachedDocuments.Set(float64(n)) }

var adHocInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "adhoc_extractions_in_flight",
	Help: "Reviewer-triggered field extractions currently running",
})

type HttpStatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *HttpStatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func IncrementJobsInQueue() {
	countJobsInQueue.Inc()
}

func DecrementJobsInQueue() {
	countJobsInQueue.Dec()
}

func StartDispatcherSignalCount() {
	dispatcherSignalCount.Inc()
}

func IncrementActiveWorkerCount() {
	activeWorkerCount.Inc()
}
func DecrementActiveWorkerCount() {
	activeWorkerCount.Dec()
}

func CaptureRound(isPriority bool, outcome string) {
	priority := "false"
	if isPriority {
		priority = "true"
	}
	roundsTotal.WithLabelValues(priority, outcome).Inc()
}

func CaptureQuestion(outcome string) {
	questionOutcomes.WithLabelValues(outcome).Inc()
}

func CaptureAlignment(outcome string) {
	alignmentOutcomes.WithLabelValues(outcome).Inc()
}

func CaptureMatchScore(score float64) {
	templateMatchScore.Observe(score)
}

func AdHocStarted()  { adHocInFlight.Inc() }
func AdHocFinished() { adHocInFlight.Dec() }

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "extraction_run_duration_seconds",
	Help:    "Total time spent running an extraction job.",
	Buckets: []float64{.5, 1, 2, 5, 10, 30, 60, 120},
}, []string{"status"})

var dependencyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dependency_latency_seconds",
	Help:    "Latency of external service calls.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
}, []string{"service"})

func CaptureExecutionMetrics(label string, timeElapsed time.Duration) {
	dependencyLatency.WithLabelValues(label).Observe(timeElapsed.Seconds())
}

func CaptureJobMetrics(label string, timeElapsed time.Duration) {
	requestDuration.WithLabelValues(label).Observe(timeElapsed.Seconds())
}
