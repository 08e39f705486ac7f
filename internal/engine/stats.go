package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyAcc accumulates count and total duration for one named
// operation, exposed as count + average milliseconds. internal/metrics
// wraps the same call sites with real Prometheus histograms; this is
// the lightweight JSON-friendly twin for GET /stats (spec §4.6).
type latencyAcc struct {
	mu    sync.Mutex
	count int64
	sum   time.Duration
}

func (l *latencyAcc) observe(d time.Duration) {
	l.mu.Lock()
	l.count++
	l.sum += d
	l.mu.Unlock()
}

func (l *latencyAcc) snapshot() (count int64, avgMillis float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return 0, 0
	}
	return l.count, float64(l.sum.Milliseconds()) / float64(l.count)
}

func (l *latencyAcc) reset() {
	l.mu.Lock()
	l.count, l.sum = 0, 0
	l.mu.Unlock()
}

// Stats holds the process-wide counters and latency accumulators named
// in spec §4.7: images ingested, bytes read, descriptors extracted,
// searches served (by status), cache hits, plus extraction/IVF-search/
// end-to-end-search latency.
type Stats struct {
	ImagesIngested       atomic.Int64
	BytesRead            atomic.Int64
	DescriptorsExtracted atomic.Int64
	SearchesOK           atomic.Int64
	SearchesError        atomic.Int64
	CacheHits            atomic.Int64

	extractLatency latencyAcc
	annLatency     latencyAcc
	e2eLatency     latencyAcc
}

// NewStats constructs a zeroed Stats.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) ObserveExtract(d time.Duration) { s.extractLatency.observe(d) }
func (s *Stats) ObserveANNSearch(d time.Duration) { s.annLatency.observe(d) }
func (s *Stats) ObserveEndToEnd(d time.Duration) { s.e2eLatency.observe(d) }

// StatsSnapshot is the JSON body served by GET /stats.
type StatsSnapshot struct {
	ImagesIngested       int64   `json:"images_ingested"`
	BytesRead            int64   `json:"bytes_read"`
	DescriptorsExtracted int64   `json:"descriptors_extracted"`
	SearchesOK           int64   `json:"searches_ok"`
	SearchesError        int64   `json:"searches_error"`
	CacheHits            int64   `json:"cache_hits"`
	ExtractCount         int64   `json:"extract_count"`
	ExtractAvgMillis     float64 `json:"extract_avg_ms"`
	ANNSearchCount       int64   `json:"ann_search_count"`
	ANNSearchAvgMillis   float64 `json:"ann_search_avg_ms"`
	SearchCount          int64   `json:"search_count"`
	SearchAvgMillis      float64 `json:"search_avg_ms"`
}

// Snapshot returns an immutable copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	extractCount, extractAvg := s.extractLatency.snapshot()
	annCount, annAvg := s.annLatency.snapshot()
	searchCount, searchAvg := s.e2eLatency.snapshot()
	return StatsSnapshot{
		ImagesIngested:       s.ImagesIngested.Load(),
		BytesRead:            s.BytesRead.Load(),
		DescriptorsExtracted: s.DescriptorsExtracted.Load(),
		SearchesOK:           s.SearchesOK.Load(),
		SearchesError:        s.SearchesError.Load(),
		CacheHits:            s.CacheHits.Load(),
		ExtractCount:         extractCount,
		ExtractAvgMillis:     extractAvg,
		ANNSearchCount:       annCount,
		ANNSearchAvgMillis:   annAvg,
		SearchCount:          searchCount,
		SearchAvgMillis:      searchAvg,
	}
}

// Reset zeroes every counter (spec §4.6 POST /reset_stats).
func (s *Stats) Reset() {
	s.ImagesIngested.Store(0)
	s.BytesRead.Store(0)
	s.DescriptorsExtracted.Store(0)
	s.SearchesOK.Store(0)
	s.SearchesError.Store(0)
	s.CacheHits.Store(0)
	s.extractLatency.reset()
	s.annLatency.reset()
	s.e2eLatency.reset()
}
