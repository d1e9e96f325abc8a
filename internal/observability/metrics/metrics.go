package metrics

import "github.com/prometheus/client_golang/prometheus"

// WorkflowMetrics exposes counters/histograms for the bilan and exercise flows.
type WorkflowMetrics struct {
	structuringOutcomes *prometheus.CounterVec
	gatewayLatency      *prometheus.HistogramVec
	generations         *prometheus.CounterVec
	exports             *prometheus.CounterVec
	quotaRefusals       prometheus.Counter
	lockViolations      prometheus.Counter
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		structuringOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kine",
			Subsystem: "bilan",
			Name:      "structuring_outcomes_total",
			Help:      "Structuring calls by outcome (structured, rejected, failed)",
		}, []string{"outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kine",
			Subsystem: "gateway",
			Name:      "latency_seconds",
			Help:      "Latency of external automation service calls",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"service"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kine",
			Subsystem: "exercises",
			Name:      "generations_total",
			Help:      "Exercise program generation calls",
		}, []string{"action", "status"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kine",
			Subsystem: "documents",
			Name:      "exports_total",
			Help:      "Document exports by kind and status",
		}, []string{"kind", "status"}),
		quotaRefusals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kine",
			Subsystem: "bilan",
			Name:      "quota_refusals_total",
			Help:      "Submissions refused because the free quota is exhausted",
		}),
		lockViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kine",
			Subsystem: "exercises",
			Name:      "lock_violations_total",
			Help:      "Generation responses that altered a locked exercise",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.structuringOutcomes, m.gatewayLatency, m.generations, m.exports, m.quotaRefusals, m.lockViolations)
	return m
}

func (m *WorkflowMetrics) ObserveStructuring(outcome string) {
	if m == nil {
		return
	}
	m.structuringOutcomes.WithLabelValues(outcome).Inc()
}

func (m *WorkflowMetrics) ObserveGatewayLatency(service string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(service).Observe(seconds)
}

func (m *WorkflowMetrics) ObserveGeneration(action, status string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(action, status).Inc()
}

func (m *WorkflowMetrics) ObserveExport(kind string, ok bool) {
	if m == nil {
		return
	}
	status := "failed"
	if ok {
		status = "succeeded"
	}
	m.exports.WithLabelValues(kind, status).Inc()
}

func (m *WorkflowMetrics) ObserveQuotaRefusal() {
	if m == nil {
		return
	}
	m.quotaRefusals.Inc()
}

func (m *WorkflowMetrics) ObserveLockViolation() {
	if m == nil {
		return
	}
	m.lockViolations.Inc()
}
