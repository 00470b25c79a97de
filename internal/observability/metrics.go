package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Recording       prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	FramesSent      prometheus.Counter
	FramesDiscarded prometheus.Counter
	FramesReceived  prometheus.Counter
	MalformedFrames prometheus.Counter
	PlaybackDropped prometheus.Counter
	ClipsExported   *prometheus.CounterVec
	ClipDuration    *prometheus.HistogramVec
	StageLatency    *prometheus.HistogramVec

	// Latency backs the /v1/perf/latency summary.
	Latency *LatencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Recording: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording",
			Help:      "1 while the capture session is recording.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Realtime websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TransportErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Realtime transport errors by operation.",
		}, []string{"op"}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound audio frames handed to the transport.",
		}),
		FramesDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_discarded_total",
			Help:      "Outbound audio frames cut while not recording.",
		}),
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound audio deltas decoded and queued for playback.",
		}),
		MalformedFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Inbound audio deltas dropped as malformed.",
		}),
		PlaybackDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_dropped_total",
			Help:      "Chunks dropped by a saturated playback queue.",
		}),
		ClipsExported: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_exported_total",
			Help:      "WAV clips exported by role.",
		}, []string{"role"}),
		ClipDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clip_duration_seconds",
			Help:      "Duration of exported clips.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"role"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_stage_latency_seconds",
			Help:      "Latency between conversation milestones.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5, 5, 10},
		}, []string{"stage"}),
		Latency: NewLatencyWindow(256),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	m.Latency.Observe(stage, d)
}

func (m *Metrics) ObserveClip(role string, d time.Duration) {
	m.ClipsExported.WithLabelValues(role).Inc()
	m.ClipDuration.WithLabelValues(role).Observe(d.Seconds())
}

func (m *Metrics) ObserveMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) SetRecording(on bool) {
	if on {
		m.Recording.Set(1)
		return
	}
	m.Recording.Set(0)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
