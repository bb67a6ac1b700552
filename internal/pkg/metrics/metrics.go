// internal/pkg/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offer"

// Saga 汇总了 saga 引擎与规则合并的 Prometheus 指标。
type Saga struct {
	Outcomes      *prometheus.CounterVec
	Compensations *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	MergeDuration prometheus.Histogram
	Placements    prometheus.Gauge
}

// NewSaga 创建指标并注册到给定的 Registerer；reg 为 nil 时不注册（测试用）。
func NewSaga(reg prometheus.Registerer) *Saga {
	m := &Saga{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_outcomes_total",
			Help:      "Saga executions by operation, environment and outcome.",
		}, []string{"operation", "env", "outcome"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_compensations_total",
			Help:      "Compensating calls by kind and result.",
		}, []string{"compensation", "result"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "saga_step_duration_seconds",
			Help:      "Duration of individual saga steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eligibility_merge_duration_seconds",
			Help:      "Duration of eligibility rule consolidation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		Placements: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eligibility_placements",
			Help:      "Number of consolidated rule placements in the last merge.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Outcomes, m.Compensations, m.StepDuration, m.MergeDuration, m.Placements)
	}
	return m
}

func (m *Saga) ObserveOutcome(op, env, outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(op, env, outcome).Inc()
}

func (m *Saga) ObserveCompensation(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Compensations.WithLabelValues(kind, result).Inc()
}

func (m *Saga) ObserveStep(step string, started time.Time) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(time.Since(started).Seconds())
}

func (m *Saga) ObserveMerge(started time.Time, placements int) {
	if m == nil {
		return
	}
	m.MergeDuration.Observe(time.Since(started).Seconds())
	m.Placements.Set(float64(placements))
}
