package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the assistant pipeline
type Metrics struct {
	// Capture metrics
	FramesVoiced  prometheus.Counter
	FramesDropped *prometheus.CounterVec

	// Segment metrics
	SegmentsFlushed prometheus.Counter
	SegmentsEmpty   prometheus.Counter
	SegmentFrames   prometheus.Histogram

	// Transcription metrics
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Chat metrics
	ChatRequests  prometheus.Counter
	ChatFailures  prometheus.Counter
	ChatDuration  prometheus.Histogram
	ChatInFlight  prometheus.Gauge
	LateResponses prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesVoiced: factory.NewCounter(prometheus.CounterOpts{
			Name: "aisly_frames_voiced_total",
			Help: "Total number of captured frames retained by the voice gate",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aisly_frames_dropped_total",
			Help: "Total number of captured frames not retained",
		}, []string{"reason"}),

		SegmentsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aisly_segments_flushed_total",
			Help: "Total number of non-empty segments flushed for transcription",
		}),
		SegmentsEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "aisly_segments_empty_total",
			Help: "Total number of flushes that found nothing to transcribe",
		}),
		SegmentFrames: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aisly_segment_frames",
			Help:    "Number of frames per flushed segment",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512 frames
		}),

		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "aisly_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aisly_transcription_failures_total",
			Help: "Total number of failed transcriptions",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aisly_transcription_duration_seconds",
			Help:    "Duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),

		ChatRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "aisly_chat_requests_total",
			Help: "Total number of chat requests dispatched",
		}),
		ChatFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aisly_chat_failures_total",
			Help: "Total number of chat replies that carried a failure marker",
		}),
		ChatDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aisly_chat_duration_seconds",
			Help:    "Duration of chat calls",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		ChatInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aisly_chat_in_flight",
			Help: "Current number of chat calls in flight",
		}),
		LateResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "aisly_chat_late_responses_total",
			Help: "Total number of chat replies that arrived after listening stopped",
		}),
	}
}

// NewNop registers on a private registry; used when metrics are disabled and in tests.
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordFrameVoiced increments the retained frame counter
func (m *Metrics) RecordFrameVoiced() {
	m.FramesVoiced.Inc()
}

// RecordFrameDropped increments the dropped frame counter for a reason
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordFlush records a flush and the size of the segment it produced
func (m *Metrics) RecordFlush(frames int) {
	if frames == 0 {
		m.SegmentsEmpty.Inc()
		return
	}
	m.SegmentsFlushed.Inc()
	m.SegmentFrames.Observe(float64(frames))
}

// RecordTranscription records a transcription call
func (m *Metrics) RecordTranscription(ok bool, durationSeconds float64) {
	if ok {
		m.TranscriptionSuccesses.Inc()
	} else {
		m.TranscriptionFailures.Inc()
	}
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordChatStarted increments chat requests and the in-flight gauge
func (m *Metrics) RecordChatStarted() {
	m.ChatRequests.Inc()
	m.ChatInFlight.Inc()
}

// RecordChatFinished decrements the in-flight gauge and records the outcome
func (m *Metrics) RecordChatFinished(failed bool, durationSeconds float64) {
	m.ChatInFlight.Dec()
	if failed {
		m.ChatFailures.Inc()
	}
	m.ChatDuration.Observe(durationSeconds)
}

// RecordLateResponse increments the late response counter
func (m *Metrics) RecordLateResponse() {
	m.LateResponses.Inc()
}
