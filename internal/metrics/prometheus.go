package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rtmptranscribe"

// Metrics contains all Prometheus metrics for rtmptranscribe. It is the
// observer for the audio bridge, the recognition client and the session.
type Metrics struct {
	Registry *prometheus.Registry

	// Audio bridge metrics
	ChunksQueued   prometheus.Counter
	SamplesQueued  prometheus.Counter
	BatchesDrained prometheus.Counter
	BatchChunks    prometheus.Histogram
	QueueDepthG    prometheus.Gauge

	// Recognition metrics
	RecognitionBatches  prometheus.Counter
	RecognitionAudio    prometheus.Counter
	RecognitionResults  *prometheus.CounterVec
	RecognitionFailures *prometheus.CounterVec

	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	SessionActive    prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	sampleRate float64
}

// NewMetrics creates all metrics and registers them, together with the Go and
// process collectors, on a dedicated registry
func NewMetrics(sampleRate int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	if sampleRate <= 0 {
		sampleRate = 16000
	}

	return &Metrics{
		Registry:   reg,
		sampleRate: float64(sampleRate),

		ChunksQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_queued_total",
			Help:      "Total number of audio chunks read from the pipe",
		}),
		SamplesQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_queued_total",
			Help:      "Total number of PCM samples read from the pipe",
		}),
		BatchesDrained: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_batches_drained_total",
			Help:      "Total number of batches handed to the recognition client",
		}),
		BatchChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_batch_chunks",
			Help:      "Number of chunks coalesced into one batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
		}),
		QueueDepthG: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_queue_depth",
			Help:      "Current number of chunks waiting in the bridge",
		}),

		RecognitionBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_requests_total",
			Help:      "Total number of audio requests sent to the recognition service",
		}),
		RecognitionAudio: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_audio_seconds_total",
			Help:      "Total seconds of audio sent to the recognition service",
		}),
		RecognitionResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_results_total",
			Help:      "Total number of recognition results received",
		}, []string{"kind"}),
		RecognitionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_failures_total",
			Help:      "Total number of failed recognition sessions by gRPC code",
		}, []string{"code"}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of transcription sessions ended, by final state",
		}, []string{"state"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of transcription sessions",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		SessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a transcription session is running",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// ChunkQueued records a chunk read from the pipe
func (m *Metrics) ChunkQueued(samples int) {
	m.ChunksQueued.Inc()
	m.SamplesQueued.Add(float64(samples))
}

// BatchDrained records a batch taken from the bridge
func (m *Metrics) BatchDrained(chunks, samples int) {
	m.BatchesDrained.Inc()
	m.BatchChunks.Observe(float64(chunks))
}

// QueueDepth sets the current bridge queue depth
func (m *Metrics) QueueDepth(chunks int) {
	m.QueueDepthG.Set(float64(chunks))
}

// BatchSent records an audio request sent to the recognition service
func (m *Metrics) BatchSent(samples int) {
	m.RecognitionBatches.Inc()
	m.RecognitionAudio.Add(float64(samples) / m.sampleRate)
}

// ResultReceived records an interim or final result
func (m *Metrics) ResultReceived(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	m.RecognitionResults.WithLabelValues(kind).Inc()
}

// SessionFailed records a failed recognition session
func (m *Metrics) SessionFailed(code string) {
	m.RecognitionFailures.WithLabelValues(code).Inc()
}

// RecordSessionStarted marks a session as running
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.SessionActive.Set(1)
}

// RecordSessionFinished records the final state and duration of a session
func (m *Metrics) RecordSessionFinished(state string, durationSeconds float64) {
	m.SessionActive.Set(0)
	m.SessionsFinished.WithLabelValues(state).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
