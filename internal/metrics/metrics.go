// Package metrics holds the prometheus collectors for remote calls and
// sync outcomes. Collectors register on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "riskmap"

// Request outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeClientError = "client_error"
	OutcomeForbidden   = "forbidden"
	OutcomeRateLimited = "rate_limited"
	OutcomeServerError = "server_error"
	OutcomeConnError   = "connection_error"
	OutcomeUnexpected  = "unexpected"
)

// Sync outcomes.
const (
	ResultSynced  = "synced"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

var (
	// RequestsTotal counts remote call attempts.
	// Labels: method, outcome
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "requests_total",
		Help:      "Remote call attempts by HTTP method and outcome",
	}, []string{"method", "outcome"})

	// RetriesTotal counts sleeps before a retried attempt.
	// Labels: reason (rate_limited, server_error, connection_error)
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "retries_total",
		Help:      "Retries by reason",
	}, []string{"reason"})

	// AssetsTotal counts asset and domain updates.
	// Labels: result (synced, failed, skipped)
	AssetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "assets_total",
		Help:      "Asset updates by result",
	}, []string{"result"})

	// TagChangesTotal counts classification changes applied to assets.
	// Labels: op (add, remove)
	TagChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "tag_changes_total",
		Help:      "Classification adds and removals",
	}, []string{"op"})

	// Aborted is 1 once the permission breaker has tripped during the run.
	Aborted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "aborted",
		Help:      "Set to 1 when the run aborted on repeated permission errors",
	})
)

// RecordRequest counts one remote call attempt.
func RecordRequest(method, outcome string) {
	RequestsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordRetry counts one retry.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordAsset counts one asset update result.
func RecordAsset(result string) {
	AssetsTotal.WithLabelValues(result).Inc()
}

// RecordTagChanges counts tag additions and removals.
func RecordTagChanges(added, removed int) {
	if added > 0 {
		TagChangesTotal.WithLabelValues("add").Add(float64(added))
	}
	if removed > 0 {
		TagChangesTotal.WithLabelValues("remove").Add(float64(removed))
	}
}

// SetAborted records the breaker state.
func SetAborted(aborted bool) {
	if aborted {
		Aborted.Set(1)
		return
	}
	Aborted.Set(0)
}
