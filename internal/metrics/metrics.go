// Package metrics exposes the counters and histograms spec.md §4.7
// names (images ingested, bytes read, descriptors extracted, searches
// served by status, cache hits; extraction/IVF-search/end-to-end
// search latency) as Prometheus collectors, plus an optional push to a
// Prometheus push gateway on a configurable interval.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics bundles every collector registered for this process. All
// counters/histograms live under the Namespace set in config.toml
// (default "imsearch").
type Metrics struct {
	Registry *prometheus.Registry

	ImagesIngested       prometheus.Counter
	BytesRead            prometheus.Counter
	DescriptorsExtracted prometheus.Counter
	SearchesTotal        *prometheus.CounterVec // labeled by status: ok|error
	CacheHits            prometheus.Counter

	ExtractLatency   prometheus.Histogram
	ANNSearchLatency prometheus.Histogram
	SearchLatency    prometheus.Histogram
}

// New constructs and registers every collector under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ImagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "images_ingested_total",
			Help: "Number of images successfully ingested into the catalog.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_read_total",
			Help: "Number of raw image bytes read during ingest.",
		}),
		DescriptorsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "descriptors_extracted_total",
			Help: "Number of descriptors produced by the extraction pipeline.",
		}),
		SearchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "searches_total",
			Help: "Number of searches served, labeled by outcome.",
		}, []string{"status"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "phash_cache_hits_total",
			Help: "Number of stored-phash cache hits during rerank.",
		}),
		ExtractLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "extract_latency_seconds",
			Help:    "Time spent in the extraction pipeline per image.",
			Buckets: prometheus.DefBuckets,
		}),
		ANNSearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ann_search_latency_seconds",
			Help:    "Time spent in the IVF engine's search call.",
			Buckets: prometheus.DefBuckets,
		}),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "search_latency_seconds",
			Help:    "End-to-end latency of one /search request.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.ImagesIngested, m.BytesRead, m.DescriptorsExtracted,
		m.SearchesTotal, m.CacheHits,
		m.ExtractLatency, m.ANNSearchLatency, m.SearchLatency,
	)
	return m
}

// Pusher periodically pushes the registry's current state to a
// Prometheus push gateway (spec §4.7 "optional push ... at a
// configurable interval").
type Pusher struct {
	pusher   *push.Pusher
	interval time.Duration
}

// NewPusher constructs a Pusher targeting gatewayURL under job name
// "imsearch". interval <= 0 disables pushing (Run returns immediately).
func NewPusher(m *Metrics, gatewayURL string, interval time.Duration) *Pusher {
	return &Pusher{
		pusher:   push.New(gatewayURL, "imsearch").Gatherer(m.Registry),
		interval: interval,
	}
}

// Run pushes on a ticker until ctx is canceled. Intended to run in its
// own goroutine for the lifetime of the server process.
func (p *Pusher) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.pusher.PushContext(ctx)
		}
	}
}
