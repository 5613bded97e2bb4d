package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/precisesoft/ConnectKit-sub002/internal/infra/config"
)

// Provider holds the service metric instruments.
type Provider struct {
	requestCounter  prometheus.Counter
	loginAttempts   *prometheus.CounterVec
	tokensIssued    *prometheus.CounterVec
	cleanupSweeps   prometheus.Counter
	cleanupReclaims *prometheus.CounterVec
}

// Attach registers the service metrics on the default registry and
// returns a provider handle.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	return &Provider{
		requestCounter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "connectkit",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}),
		loginAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectkit",
			Name:      "login_attempts_total",
			Help:      "Login attempts partitioned by outcome",
		}, []string{"outcome"}),
		tokensIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectkit",
			Name:      "tokens_issued_total",
			Help:      "JWT tokens issued partitioned by type",
		}, []string{"type"}),
		cleanupSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "connectkit",
			Name:      "cleanup_sweeps_total",
			Help:      "Completed expired-token cleanup sweeps",
		}),
		cleanupReclaims: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectkit",
			Name:      "cleanup_reclaimed_total",
			Help:      "Rows reclaimed by cleanup sweeps partitioned by kind",
		}, []string{"kind"}),
	}, nil
}

// RequestCounter exposes the HTTP request metric.
func (p *Provider) RequestCounter() prometheus.Counter {
	if p == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{})
	}
	return p.requestCounter
}

// ObserveLogin records a login attempt outcome (success, failure, locked).
func (p *Provider) ObserveLogin(outcome string) {
	if p == nil {
		return
	}
	p.loginAttempts.WithLabelValues(outcome).Inc()
}

// ObserveTokenIssued records an issued token by type (access, refresh).
func (p *Provider) ObserveTokenIssued(tokenType string) {
	if p == nil {
		return
	}
	p.tokensIssued.WithLabelValues(tokenType).Inc()
}

// ObserveCleanup records a completed cleanup sweep and its reclaim counts.
func (p *Provider) ObserveCleanup(resetPurged, verificationPurged, unlocked int64) {
	if p == nil {
		return
	}
	p.cleanupSweeps.Inc()
	p.cleanupReclaims.WithLabelValues("reset_tokens").Add(float64(resetPurged))
	p.cleanupReclaims.WithLabelValues("verification_tokens").Add(float64(verificationPurged))
	p.cleanupReclaims.WithLabelValues("unlocked_accounts").Add(float64(unlocked))
}
