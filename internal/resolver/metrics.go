package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var documentsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "civicd_documents_resolved_total",
	Help: "Documents resolved to a working URL, by resolution path.",
}, []string{"via"})
