// Package metrics exposes prometheus metrics fed entirely from the
// trace stream: counters and histograms are updated by a trace
// subscriber, gauges read engine state lazily at scrape time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tidefall/reflex/internal/trace"
)

// durationBuckets cover sub-millisecond condition checks up to
// multi-second service calls.
var durationBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
	0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// StatsSource supplies gauge values at scrape time. Implemented by the
// engine.
type StatsSource interface {
	RuleCount() int
	FactCount() int
	TimerCount() int
	TraceUtilization() float64
}

// Metrics holds the registered collectors.
type Metrics struct {
	rulesTriggered      prometheus.Counter
	rulesExecuted       prometheus.Counter
	rulesSkipped        prometheus.Counter
	rulesFailed         prometheus.Counter
	eventsProcessed     prometheus.Counter
	factsChanged        prometheus.Counter
	actionsExecuted     prometheus.Counter
	actionsFailed       prometheus.Counter
	conditionsEvaluated prometheus.Counter

	evaluationDuration prometheus.Histogram
	conditionDuration  prometheus.Histogram
	actionDuration     prometheus.Histogram
}

// New registers all collectors with reg and wires the gauges to src.
func New(reg prometheus.Registerer, src StatsSource) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}
	histogram := func(name, help string) prometheus.Histogram {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: name, Help: help, Buckets: durationBuckets,
		})
		reg.MustRegister(h)
		return h
	}

	m := &Metrics{
		rulesTriggered:      counter("rules_triggered_total", "Rules whose trigger matched an event."),
		rulesExecuted:       counter("rules_executed_total", "Rules whose actions completed."),
		rulesSkipped:        counter("rules_skipped_total", "Rules skipped by conditions or dedup."),
		rulesFailed:         counter("rules_failed_total", "Rules aborted by an action error."),
		eventsProcessed:     counter("events_processed_total", "Events pulled through the pipeline."),
		factsChanged:        counter("facts_changed_total", "Committed fact writes and deletes."),
		actionsExecuted:     counter("actions_executed_total", "Actions that completed."),
		actionsFailed:       counter("actions_failed_total", "Actions that errored."),
		conditionsEvaluated: counter("conditions_evaluated_total", "Individual condition evaluations."),

		evaluationDuration: histogram("evaluation_duration_seconds", "Full rule firing duration."),
		conditionDuration:  histogram("condition_duration_seconds", "Single condition evaluation duration."),
		actionDuration:     histogram("action_duration_seconds", "Single action execution duration."),
	}

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "active_rules", Help: "Registered rules."},
		func() float64 { return float64(src.RuleCount()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "active_facts", Help: "Stored facts."},
		func() float64 { return float64(src.FactCount()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "active_timers", Help: "Pending timers."},
		func() float64 { return float64(src.TimerCount()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "trace_buffer_utilization", Help: "Trace ring fill ratio."},
		func() float64 { return src.TraceUtilization() },
	))

	return m
}

// Bind subscribes to the collector, feeding counters and histograms
// from trace entries. The returned function unsubscribes.
func (m *Metrics) Bind(c *trace.Collector) func() {
	unsub := c.Subscribe(m.observe)
	return func() { unsub() }
}

func (m *Metrics) observe(e trace.Entry) {
	seconds := e.DurationMs / 1e3
	switch e.Type {
	case trace.RuleTriggered:
		m.rulesTriggered.Inc()
	case trace.RuleExecuted:
		m.rulesExecuted.Inc()
		m.evaluationDuration.Observe(seconds)
	case trace.RuleSkipped:
		m.rulesSkipped.Inc()
	case trace.RuleFailed:
		m.rulesFailed.Inc()
		m.evaluationDuration.Observe(seconds)
	case trace.EventEmitted:
		m.eventsProcessed.Inc()
	case trace.FactChanged:
		m.factsChanged.Inc()
	case trace.ActionCompleted:
		m.actionsExecuted.Inc()
		m.actionDuration.Observe(seconds)
	case trace.ActionFailed:
		m.actionsFailed.Inc()
		m.actionDuration.Observe(seconds)
	case trace.ConditionEvaluated:
		m.conditionsEvaluated.Inc()
		m.conditionDuration.Observe(seconds)
	}
}
