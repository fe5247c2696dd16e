package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tunerr_sessions_active",
		Help: "Sessions currently counted against admission limits.",
	})

	channelSessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tunerr_channel_sessions_active",
		Help: "Active sessions per channel.",
	}, []string{"channel_id"})

	streamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunerr_stream_bytes_total",
		Help: "Bytes delivered to streaming clients.",
	})

	admissionRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerr_admission_rejections_total",
		Help: "Stream admissions refused, by reason.",
	}, []string{"reason"})

	sessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerr_sessions_ended_total",
		Help: "Sessions torn down, by end reason.",
	}, []string{"reason"})

	crashVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerr_crash_verdicts_total",
		Help: "Degraded crash detector verdicts observed.",
	}, []string{"verdict"})
)

func metricSessionStarted(channelID string) {
	sessionsActive.Inc()
	channelSessionsActive.WithLabelValues(channelID).Inc()
}

func metricSessionEnded(channelID string, reason EndReason) {
	sessionsActive.Dec()
	channelSessionsActive.WithLabelValues(channelID).Dec()
	sessionsEndedTotal.WithLabelValues(string(reason)).Inc()
}

func metricAdmissionRejected(reason string) {
	admissionRejectionsTotal.WithLabelValues(reason).Inc()
}

func metricStreamBytes(n int) {
	streamBytesTotal.Add(float64(n))
}

func metricCrashVerdict(v Verdict) {
	crashVerdictsTotal.WithLabelValues(v.String()).Inc()
}

// RecordVerdict counts a degraded verdict observed outside the watch loop,
// such as a compatibility endpoint refusing a poll for a confirmed session.
func RecordVerdict(v Verdict) {
	if v.Degraded() {
		metricCrashVerdict(v)
	}
}
