// Package metrics exposes prometheus counters for provider traffic, lookups
// and commits.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tagify"

var (
	registerOnce sync.Once

	providerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Outbound provider requests by provider and result (ok, error, cached, throttled)",
	}, []string{"provider", "result"})
	providerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_request_seconds",
		Help:      "Latency of uncached provider requests",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"provider"})
	lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookups_total",
		Help:      "Track lookups by strategy and outcome",
	}, []string{"strategy", "outcome"})
	batchDeferrals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_deferrals_total",
		Help:      "Tracks put back at the head of the batch queue",
	})
	commits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commits_total",
		Help:      "Tag commits by result",
	}, []string{"result"})
	commitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "commit_duration_seconds",
		Help:      "Duration of tag commit transactions",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	indexedTracks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "indexed_tracks",
		Help:      "Tracks currently in the index",
	})
)

// Register adds every collector to the default registry (idempotent).
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(providerRequests, providerLatency, lookups, batchDeferrals,
			commits, commitDuration, indexedTracks)
	})
}

func IncProviderRequest(host, result string) { providerRequests.WithLabelValues(host, result).Inc() }
func ObserveProviderLatency(host string, d time.Duration) {
	providerLatency.WithLabelValues(host).Observe(d.Seconds())
}
func IncLookup(strategy, outcome string) { lookups.WithLabelValues(strategy, outcome).Inc() }
func IncBatchDeferral()                  { batchDeferrals.Inc() }
func IncCommit(result string)            { commits.WithLabelValues(result).Inc() }
func ObserveCommitDuration(d time.Duration) {
	commitDuration.Observe(d.Seconds())
}
func SetIndexedTracks(n int) { indexedTracks.Set(float64(n)) }
