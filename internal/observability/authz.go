package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rigflow/rigflow/internal/rbac"
)

// AuthzMetrics records authorization decisions, configuration defects and
// policy reloads. It implements rbac.Observer.
type AuthzMetrics struct {
	decisions    *prometheus.CounterVec
	configErrors prometheus.Counter
	reloads      *prometheus.CounterVec
}

// NewAuthzMetrics registers the authorization collectors on registerer.
func NewAuthzMetrics(registerer prometheus.Registerer) *AuthzMetrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rigflow_authz_decisions_total",
		Help: "Authorization decisions by permission and outcome.",
	}, []string{"permission", "outcome"})
	// Unlabelled: the permission key of a misconfigured query is caller input.
	configErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rigflow_authz_config_errors_total",
		Help: "Queries for permissions missing from the policy.",
	})
	reloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rigflow_authz_policy_reloads_total",
		Help: "Policy reload attempts by source and status.",
	}, []string{"source", "status"})
	registerer.MustRegister(decisions, configErrors, reloads)
	return &AuthzMetrics{decisions: decisions, configErrors: configErrors, reloads: reloads}
}

// ObserveDecision implements rbac.Observer.
func (m *AuthzMetrics) ObserveDecision(perm rbac.Permission, allowed bool) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.decisions.WithLabelValues(string(perm), outcome).Inc()
}

// ObserveConfigError implements rbac.Observer.
func (m *AuthzMetrics) ObserveConfigError(err *rbac.ConfigError) {
	if m == nil || err == nil {
		return
	}
	m.configErrors.Inc()
}

// ObserveReload matches rbac.ReloadHook.
func (m *AuthzMetrics) ObserveReload(source string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.reloads.WithLabelValues(source, status).Inc()
}
