// Package metricsvc collects identity metrics with Prometheus and exposes them for scraping.
package metricsvc

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/campus/core/identity"
)

const namespace = "campus"

// Collector is the Prometheus implementation of identity.Metrics.
type Collector struct {
	codesIssued        *prometheus.CounterVec
	codesVerified      *prometheus.CounterVec
	lockouts           *prometheus.CounterVec
	credentialsCreated *prometheus.CounterVec
	passwordResets     prometheus.Counter
	logins             *prometheus.CounterVec
}

var _ identity.Metrics = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_codes_issued_total",
			Help:      "One-time codes issued, by purpose.",
		}, []string{"purpose"}),
		codesVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_codes_verified_total",
			Help:      "One-time code verifications, by purpose and outcome.",
		}, []string{"purpose", "valid"}),
		lockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Keys locked out after too many failed attempts, by scope.",
		}, []string{"scope"}),
		credentialsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_created_total",
			Help:      "Credentials created through signup, by role.",
		}, []string{"role"}),
		passwordResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_total",
			Help:      "Passwords reset through the reset flow.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Sign in attempts, by outcome.",
		}, []string{"success"}),
	}

	reg.MustRegister(
		c.codesIssued,
		c.codesVerified,
		c.lockouts,
		c.credentialsCreated,
		c.passwordResets,
		c.logins,
	)
	return c
}

func (c *Collector) CodeIssued(purpose identity.Purpose) {
	c.codesIssued.WithLabelValues(string(purpose)).Inc()
}

func (c *Collector) CodeVerified(purpose identity.Purpose, valid bool) {
	c.codesVerified.WithLabelValues(string(purpose), strconv.FormatBool(valid)).Inc()
}

func (c *Collector) LockedOut(scope string) {
	c.lockouts.WithLabelValues(scope).Inc()
}

func (c *Collector) CredentialCreated(role identity.Role) {
	c.credentialsCreated.WithLabelValues(string(role)).Inc()
}

func (c *Collector) PasswordReset() {
	c.passwordResets.Inc()
}

func (c *Collector) LoginAttempt(success bool) {
	c.logins.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
