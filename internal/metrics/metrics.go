package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Invitation and webhook outcomes used as the result label.
const (
	ResultSent    = "sent"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
	ResultOK      = "ok"
	ResultError   = "error"
)

// Metrics owns a private registry so a CLI run only pushes what it recorded.
// All methods are safe on a nil receiver.
type Metrics struct {
	reg         *prometheus.Registry
	invitations *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	repairs     *prometheus.CounterVec
	findings    *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsctl_invitations_total",
			Help: "Connection invitations processed by campaign dispatch.",
		}, []string{"result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsctl_webhook_triggers_total",
			Help: "Workflow webhook triggers by outcome.",
		}, []string{"result"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsctl_repairs_rows_total",
			Help: "Rows changed by applied repairs.",
		}, []string{"check"}),
		findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opsctl_audit_findings",
			Help: "Offending rows found by the last audit run.",
		}, []string{"check"}),
	}
	m.reg.MustRegister(m.invitations, m.webhooks, m.repairs, m.findings)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Invitation(result string) {
	if m == nil {
		return
	}
	m.invitations.WithLabelValues(result).Inc()
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

func (m *Metrics) RepairedRows(check string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.repairs.WithLabelValues(check).Add(float64(n))
}

func (m *Metrics) Findings(check string, n int) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(check).Set(float64(n))
}

// Push sends the registry to a Prometheus pushgateway. An empty url is a no-op.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if job == "" {
		job = "opsctl"
	}
	if err := push.New(url, job).Gatherer(m.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
