package challenge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_challenges_issued_total",
		Help: "The total number of captchas issued",
	})

	challengeChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_challenge_checks_total",
		Help: "The total number of captcha answers checked, by outcome",
	}, []string{"outcome"})

	challengesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_challenges_swept_total",
		Help: "The total number of expired captchas removed by the background sweep",
	})

	challengesOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatekeeper_challenges_outstanding",
		Help: "The number of captchas currently held in memory",
	})
)
