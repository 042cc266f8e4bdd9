package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var attempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gatekeeper_auth_attempts_total",
	Help: "The total number of register, login and whoami attempts by result",
}, []string{"operation", "result"})

func observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}

	attempts.WithLabelValues(operation, result).Inc()
}
