package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequests counts outbound calls by source, endpoint and outcome.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airweather",
		Name:      "upstream_requests_total",
		Help:      "Outbound upstream requests by source, endpoint and outcome",
	}, []string{"source", "endpoint", "outcome"})

	// UpstreamDuration tracks upstream latency.
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "airweather",
		Name:      "upstream_request_duration_seconds",
		Help:      "Time spent waiting on upstream responses",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source", "endpoint"})

	// SkippedRecords counts upstream records dropped during normalization.
	SkippedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airweather",
		Name:      "normalize_skipped_records_total",
		Help:      "Upstream records skipped because they could not be normalized",
	}, []string{"kind"})

	// PersistedRecords counts rows written to the store.
	PersistedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "airweather",
		Name:      "persisted_records_total",
		Help:      "Canonical records written to the store by table",
	}, []string{"table"})
)
