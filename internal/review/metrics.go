package review

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verificationsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "civicd_verifications_total",
	Help: "Verification records written, by check type and status.",
}, []string{"check_type", "status"})
