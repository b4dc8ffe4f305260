// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package metrics exposes Prometheus counters for authentication and
// password recovery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by the counters.
const (
	OutcomeSuccess         = "success"
	OutcomeUnknownAccount  = "unknown_account"
	OutcomeRateLimited     = "rate_limited"
	OutcomeDeliveryFailed  = "delivery_failed"
	OutcomeInvalidToken    = "invalid_token"
	OutcomeInvalidPassword = "invalid_password"
	OutcomeDuplicate       = "duplicate"
)

// Metrics holds the application counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	OTPRequests      *prometheus.CounterVec
	OTPVerifications *prometheus.CounterVec
	PasswordResets   *prometheus.CounterVec
	Logins           *prometheus.CounterVec
	Registrations    *prometheus.CounterVec
}

// New creates the counters on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		OTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_otp_requests_total",
				Help: "OTP requests by outcome",
			},
			[]string{"outcome"},
		),
		OTPVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_otp_verifications_total",
				Help: "OTP verifications by outcome",
			},
			[]string{"outcome"},
		),
		PasswordResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_password_resets_total",
				Help: "Password resets by outcome",
			},
			[]string{"outcome"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_registrations_total",
				Help: "Registrations by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(m.OTPRequests, m.OTPVerifications, m.PasswordResets, m.Logins, m.Registrations)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OTPRequested(outcome string) {
	if m != nil {
		m.OTPRequests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) OTPVerified(outcome string) {
	if m != nil {
		m.OTPVerifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) PasswordReset(outcome string) {
	if m != nil {
		m.PasswordResets.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) LoginAttempted(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Registered(outcome string) {
	if m != nil {
		m.Registrations.WithLabelValues(outcome).Inc()
	}
}
