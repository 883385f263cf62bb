// Package services implements the business logic of the activity feed
// platform. This file exposes Prometheus instrumentation for the ingestion
// and fanout pipelines. Labels are kept low-cardinality (fixed outcome
// enumerations only, never user or event IDs).
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// ingestSubmissions counts submissions by outcome: created, duplicate,
	// rejected, unavailable.
	ingestSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_submissions_total",
			Help: "Total event submissions by outcome.",
		},
		[]string{"outcome"},
	)

	// fanoutEntries counts per-target fanout writes by outcome: written,
	// failed, retried, abandoned.
	fanoutEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_entries_total",
			Help: "Total per-target fanout writes by outcome.",
		},
		[]string{"outcome"},
	)

	// fanoutRouted counts routing decisions by mode: write, read.
	fanoutRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_routed_total",
			Help: "Total routed events by fanout mode.",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(ingestSubmissions, fanoutEntries, fanoutRouted)
}
