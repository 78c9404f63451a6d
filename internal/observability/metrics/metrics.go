package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DealerMetrics exposes counters/histograms for the SMS webhook and dialogue flows.
// All methods are safe on a nil receiver.
type DealerMetrics struct {
	inboundTotal       *prometheus.CounterVec
	webhookLatency     prometheus.Histogram
	turnsTotal         *prometheus.CounterVec
	finalizationsTotal *prometheus.CounterVec
	outboundTotal      *prometheus.CounterVec
	duplicatesTotal    prometheus.Counter
}

func NewDealerMetrics(reg prometheus.Registerer) *DealerMetrics {
	m := &DealerMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealer",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound Twilio SMS webhooks",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dealer",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of Twilio webhook acknowledgement",
			Buckets:   prometheus.DefBuckets,
		}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealer",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Dialogue turns by stage at receipt and outcome",
		}, []string{"stage", "outcome"}),
		finalizationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealer",
			Subsystem: "conversation",
			Name:      "finalizations_total",
			Help:      "Appointments and callbacks captured",
		}, []string{"kind", "rescheduled"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealer",
			Subsystem: "messaging",
			Name:      "outbound_sms_total",
			Help:      "Total outbound SMS sends",
		}, []string{"status"}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dealer",
			Subsystem: "conversation",
			Name:      "duplicate_deliveries_total",
			Help:      "Inbound provider messages skipped as already processed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.webhookLatency, m.turnsTotal, m.finalizationsTotal, m.outboundTotal, m.duplicatesTotal)
	return m
}

func (m *DealerMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *DealerMetrics) ObserveWebhookLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.webhookLatency.Observe(d.Seconds())
}

func (m *DealerMetrics) ObserveTurn(stage, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(stage, outcome).Inc()
}

func (m *DealerMetrics) ObserveFinalization(kind string, rescheduled bool) {
	if m == nil {
		return
	}
	m.finalizationsTotal.WithLabelValues(kind, strconv.FormatBool(rescheduled)).Inc()
}

func (m *DealerMetrics) ObserveOutboundSMS(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *DealerMetrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicatesTotal.Inc()
}
