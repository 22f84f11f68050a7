package auth

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_login_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)
	lockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authcore_lockouts_total",
			Help: "Accounts moved to the locked state",
		},
	)
	tokenRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_token_rejections_total",
			Help: "Bearer tokens rejected by reason",
		},
		[]string{"reason"},
	)
)

const (
	outcomeSuccess      = "success"
	outcomeBadPassword  = "bad_password"
	outcomeUnknownUser  = "unknown_user"
	outcomeLocked       = "locked"
	outcomeInvalidInput = "invalid_input"
	outcomeError        = "error"
)

func recordLogin(outcome string) {
	loginOutcomes.WithLabelValues(outcome).Inc()
}

func recordTokenRejection(err error) {
	reason := "malformed"
	switch {
	case errors.Is(err, ErrExpiredToken):
		reason = "expired"
	case errors.Is(err, ErrInvalidSignature):
		reason = "invalid_signature"
	case errors.Is(err, ErrRevokedToken):
		reason = "revoked"
	}
	tokenRejections.WithLabelValues(reason).Inc()
}
