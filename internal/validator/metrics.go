package validator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rewritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tunerr_validator_rewrites_total",
	Help: "Responses whose live TV media type code had to be rewritten, by body kind.",
}, []string{"kind"})
