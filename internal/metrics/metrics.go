// Package metrics exposes the service's Prometheus counters. They are
// served on /metrics by cmd/server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts transfer requests by outcome:
	// completed, flagged, blocked, rejected, failed.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudguard_transfers_total",
		Help: "Transfer requests processed, by outcome.",
	}, []string{"outcome"})

	// OracleFailures counts fraud oracle calls that failed and were
	// handled fail-open, by failure kind: unreachable, bad_status,
	// bad_body.
	OracleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudguard_oracle_failures_total",
		Help: "Fraud oracle calls that failed and fell back to a fail-open verdict.",
	}, []string{"reason"})

	// TypeFallbacks counts requests whose transfer type was not
	// recognized and defaulted to TRANSFER.
	TypeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraudguard_unknown_transfer_type_total",
		Help: "Requests with an unrecognized transfer type, defaulted to TRANSFER.",
	})
)
