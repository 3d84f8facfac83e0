// Package telemetry collects local query pattern metrics used to tune
// retrieval: query type mix, frequent terms, zero-result queries, latency
// distribution and repetition rates. Data stays on the local machine; the
// optional store persists aggregates to PostgreSQL alongside the index.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryType classifies a recorded search query.
type QueryType string

const (
	QueryTypeCodeSnippet     QueryType = "code_snippet"
	QueryTypeNaturalLanguage QueryType = "natural_language"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one search query as seen by the collector.
type QueryEvent struct {
	Query       string
	QueryType   QueryType
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the query returned nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// ZeroResultQuery is a zero-result query pending persistence.
type ZeroResultQuery struct {
	Query string
	At    time.Time
}

// CircularBuffer is a fixed-capacity FIFO buffer. Safe for concurrent use.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int // next write position
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
	} else {
		// Full buffer wraps; the oldest item sits at head.
		copy(out, b.items[b.head:])
		copy(out[b.capacity-b.head:], b.items[:b.head])
	}
	return out
}

// Size returns the current number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear drops all buffered items.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// ExtractTerms splits a query into lowercased terms of at least three
// characters. Returns nil when nothing qualifies.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var terms []string
	for _, w := range strings.Fields(query) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryMetricsSnapshot is an immutable view of the collector state.
type QueryMetricsSnapshot struct {
	QueryTypeCounts     map[QueryType]int64     `json:"query_type_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`

	ExactRepeatCount  int64   `json:"exact_repeat_count"`
	ExactRepeatRate   float64 `json:"exact_repeat_rate"`
	SimilarQueryCount int64   `json:"similar_query_count"`
	SimilarQueryRate  float64 `json:"similar_query_rate"`
	UniqueQueryCount  int64   `json:"unique_query_count"`
}

// ZeroResultPercentage returns the share of zero-result queries in percent.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// RepetitionSummary renders the repetition rates for status output.
func (s *QueryMetricsSnapshot) RepetitionSummary() string {
	if s.TotalQueries == 0 {
		return "No queries recorded"
	}
	return fmt.Sprintf("exact=%.1f%%, similar=%.1f%%, unique=%d",
		s.ExactRepeatRate*100, s.SimilarQueryRate*100, s.UniqueQueryCount)
}

// QueryMetricsStore persists aggregate counts between sessions. Day strings
// use the 2006-01-02 format.
type QueryMetricsStore interface {
	// SaveQueryTypeCounts adds per-type counts onto the given day's row.
	SaveQueryTypeCounts(ctx context.Context, day string, counts map[QueryType]int64) error

	// GetQueryTypeCounts sums per-type counts over a day range, inclusive.
	GetQueryTypeCounts(ctx context.Context, from, to string) (map[QueryType]int64, error)

	// UpsertTermCounts adds term frequencies onto their stored totals.
	UpsertTermCounts(ctx context.Context, terms map[string]int64) error

	// GetTopTerms returns the most frequent terms, highest count first.
	GetTopTerms(ctx context.Context, limit int) ([]TermCount, error)

	// AddZeroResultQueries appends zero-result queries, trimming old rows.
	AddZeroResultQueries(ctx context.Context, queries []ZeroResultQuery) error

	// GetZeroResultQueries returns recent zero-result queries, newest first.
	GetZeroResultQueries(ctx context.Context, limit int) ([]string, error)

	// SaveLatencyCounts adds histogram counts onto the given day's row.
	SaveLatencyCounts(ctx context.Context, day string, counts map[LatencyBucket]int64) error

	// GetLatencyCounts sums histogram counts over a day range, inclusive.
	GetLatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error)

	// Close releases store resources.
	Close() error
}

// QueryMetricsConfig tunes the collector's capacities and flush cadence.
type QueryMetricsConfig struct {
	// TopTermsCapacity bounds the tracked term vocabulary.
	TopTermsCapacity int

	// ZeroResultsCapacity bounds the retained zero-result queries.
	ZeroResultsCapacity int

	// FlushInterval is the auto-flush period. Zero disables auto-flush.
	FlushInterval time.Duration

	// RecentQueriesCapacity bounds the hashes kept for repeat detection.
	RecentQueriesCapacity int

	// RecentEmbeddingsCapacity bounds the embeddings sampled for
	// similarity detection.
	RecentEmbeddingsCapacity int

	// SimilarityThreshold is the cosine similarity above which two
	// queries count as semantically similar.
	SimilarityThreshold float64
}

// DefaultQueryMetricsConfig returns the standard collector configuration.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:         100,
		ZeroResultsCapacity:      100,
		FlushInterval:            60 * time.Second,
		RecentQueriesCapacity:    500,
		RecentEmbeddingsCapacity: 10,
		SimilarityThreshold:      0.95,
	}
}

// flushTimeout bounds a single background flush.
const flushTimeout = 10 * time.Second

// QueryMetrics aggregates query telemetry in memory and optionally flushes
// deltas to a store. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.RWMutex

	// Session aggregates, reported by Snapshot.
	queryTypes      map[QueryType]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time

	// Repetition tracking.
	recentQueries     *lru.Cache[string, struct{}]
	exactRepeatCount  int64
	recentEmbeddings  *CircularBuffer[[]float32]
	similarQueryCount int64

	// Deltas accumulated since the last successful flush. Only maintained
	// when a store is configured.
	pendingTypes     map[QueryType]int64
	pendingTerms     map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingZero      []ZeroResultQuery

	store       QueryMetricsStore
	cfg         QueryMetricsConfig
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewQueryMetrics creates a collector with the default configuration. A nil
// store keeps metrics in memory only.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with explicit configuration.
// Zero capacities fall back to the defaults.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	def := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}
	if cfg.RecentEmbeddingsCapacity <= 0 {
		cfg.RecentEmbeddingsCapacity = def.RecentEmbeddingsCapacity
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		queryTypes:       make(map[QueryType]int64),
		topTerms:         topTerms,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:        make(map[LatencyBucket]int64),
		startTime:        time.Now(),
		recentQueries:    recentQueries,
		recentEmbeddings: NewCircularBuffer[[]float32](cfg.RecentEmbeddingsCapacity),
		pendingTypes:     make(map[QueryType]int64),
		pendingTerms:     make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		store:            store,
		cfg:              cfg,
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			// Best effort. Failed deltas are restored and retried on
			// the next tick.
			_ = m.Flush(ctx)
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one query. Non-blocking; persistence happens on flush.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.queryTypes[event.QueryType]++
	m.totalQueries++

	terms := ExtractTerms(event.Query)
	for _, term := range terms {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++

	queryHash := hashQuery(event.Query)
	if _, exists := m.recentQueries.Get(queryHash); exists {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(queryHash, struct{}{})

	if m.store != nil {
		m.pendingTypes[event.QueryType]++
		for _, term := range terms {
			m.pendingTerms[term]++
		}
		m.pendingLatencies[bucket]++
		if event.IsZeroResult() {
			at := event.Timestamp
			if at.IsZero() {
				at = time.Now()
			}
			m.pendingZero = append(m.pendingZero, ZeroResultQuery{Query: event.Query, At: at})
		}
	}
}

// hashQuery normalizes and hashes a query for repeat detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// RecordQueryEmbedding samples a query embedding for similarity detection.
// Optional; without it only exact repeats are tracked.
func (m *QueryMetrics) RecordQueryEmbedding(embedding []float32) {
	if len(embedding) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for _, prev := range m.recentEmbeddings.Items() {
		if cosineSimilarity(embedding, prev) > m.cfg.SimilarityThreshold {
			// Count at most once per query.
			m.similarQueryCount++
			break
		}
	}

	// Copy before storing so the caller's slice stays independent.
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	m.recentEmbeddings.Add(cp)
}

// cosineSimilarity returns 0 for empty or mismatched vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Snapshot returns the current session aggregates.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeCounts := make(map[QueryType]int64, len(m.queryTypes))
	for k, v := range m.queryTypes {
		typeCounts[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var exactRepeatRate, similarQueryRate float64
	if m.totalQueries > 0 {
		exactRepeatRate = float64(m.exactRepeatCount) / float64(m.totalQueries)
		similarQueryRate = float64(m.similarQueryCount) / float64(m.totalQueries)
	}

	return &QueryMetricsSnapshot{
		QueryTypeCounts:     typeCounts,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		Since:               m.startTime,
		ExactRepeatCount:    m.exactRepeatCount,
		ExactRepeatRate:     exactRepeatRate,
		SimilarQueryCount:   m.similarQueryCount,
		SimilarQueryRate:    similarQueryRate,
		UniqueQueryCount:    int64(m.recentQueries.Len()),
	}
}

// Flush persists the deltas accumulated since the last successful flush.
// On failure the deltas are restored so the next flush retries them. Safe
// to call without a store.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	types := m.pendingTypes
	terms := m.pendingTerms
	latencies := m.pendingLatencies
	zero := m.pendingZero
	m.pendingTypes = make(map[QueryType]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingZero = nil
	m.mu.Unlock()

	if len(types) == 0 && len(terms) == 0 && len(latencies) == 0 && len(zero) == 0 {
		return nil
	}

	day := time.Now().Format("2006-01-02")
	err := func() error {
		if len(types) > 0 {
			if err := m.store.SaveQueryTypeCounts(ctx, day, types); err != nil {
				return err
			}
		}
		if len(terms) > 0 {
			if err := m.store.UpsertTermCounts(ctx, terms); err != nil {
				return err
			}
		}
		if len(latencies) > 0 {
			if err := m.store.SaveLatencyCounts(ctx, day, latencies); err != nil {
				return err
			}
		}
		if len(zero) > 0 {
			if err := m.store.AddZeroResultQueries(ctx, zero); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		m.restorePending(types, terms, latencies, zero)
		return err
	}
	return nil
}

// restorePending merges failed flush deltas back for retry. Some overlap
// with counts persisted before the failing statement is possible; telemetry
// favors retry over exactness.
func (m *QueryMetrics) restorePending(types map[QueryType]int64, terms map[string]int64, latencies map[LatencyBucket]int64, zero []ZeroResultQuery) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range types {
		m.pendingTypes[k] += v
	}
	for k, v := range terms {
		m.pendingTerms[k] += v
	}
	for k, v := range latencies {
		m.pendingLatencies[k] += v
	}
	m.pendingZero = append(zero, m.pendingZero...)
}

// Close stops auto-flush, performs a final flush and marks the collector
// closed. Subsequent Record calls are dropped.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return m.Flush(ctx)
}
