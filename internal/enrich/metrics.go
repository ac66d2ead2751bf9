package enrich

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	summariesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicd_summaries_generated_total",
		Help: "Successful summary generations, by text source.",
	}, []string{"source"})

	summaryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicd_summary_failures_total",
		Help: "Downgraded summary generations, by reason code.",
	}, []string{"reason"})

	topicsTagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicd_topics_tagged_total",
		Help: "Topic links written, by method.",
	}, []string{"method"})
)
