package report

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joshsymonds/inboxrules/internal/engine"
)

// Metrics records run results in a private Prometheus registry and writes
// them to a node_exporter textfile after every run.
type Metrics struct {
	Path     string
	Registry *prometheus.Registry

	lastRun     prometheus.Gauge
	duration    prometheus.Gauge
	aborted     prometheus.Gauge
	cancelled   prometheus.Gauge
	totals      *prometheus.GaugeVec
	ruleMatched *prometheus.GaugeVec
	ruleFailed  *prometheus.GaugeVec
}

// NewMetrics creates the gauges. An empty path disables file output.
func NewMetrics(path string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Path:     path,
		Registry: reg,
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "inboxrules_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "inboxrules_last_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		aborted: f.NewGauge(prometheus.GaugeOpts{
			Name: "inboxrules_last_run_aborted",
			Help: "1 if the last run was aborted",
		}),
		cancelled: f.NewGauge(prometheus.GaugeOpts{
			Name: "inboxrules_last_run_cancelled",
			Help: "1 if the last run was cancelled",
		}),
		totals: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inboxrules_last_run_messages",
			Help: "Message counts of the last run",
		}, []string{"kind"}),
		ruleMatched: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inboxrules_rule_matched",
			Help: "Messages matched per rule in the last run",
		}, []string{"rule"}),
		ruleFailed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inboxrules_rule_failed",
			Help: "Failed actions per rule in the last run",
		}, []string{"rule"}),
	}
}

// Observe updates the gauges from rep.
func (m *Metrics) Observe(rep engine.Report) {
	m.lastRun.Set(float64(rep.FinishedAt.Unix()))
	m.duration.Set(rep.Duration().Seconds())
	m.aborted.Set(boolGauge(rep.State == engine.StateAborted))
	m.cancelled.Set(boolGauge(rep.Cancelled))
	t := rep.Totals
	m.totals.WithLabelValues("candidates").Set(float64(t.Candidates))
	m.totals.WithLabelValues("matched").Set(float64(t.Matched))
	m.totals.WithLabelValues("succeeded").Set(float64(t.Succeeded))
	m.totals.WithLabelValues("failed").Set(float64(t.Failed))
	m.ruleMatched.Reset()
	m.ruleFailed.Reset()
	for _, r := range rep.Rules {
		m.ruleMatched.WithLabelValues(r.RuleName).Set(float64(r.Matched))
		m.ruleFailed.WithLabelValues(r.RuleName).Set(float64(r.Failed))
	}
}

// Emit implements engine.ReportSink.
func (m *Metrics) Emit(_ context.Context, rep engine.Report) error {
	m.Observe(rep)
	if m.Path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.Path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ engine.ReportSink = (*Metrics)(nil)
