package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// queryMetricsURI is the resource URI of the query telemetry snapshot.
const queryMetricsURI = "cindex://query_metrics"

// QueryMetricsOutput is the JSON shape of the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary `json:"summary"`
	QueryTypeCounts     map[string]int64    `json:"query_type_counts"`
	TopTerms            []QueryTermCount    `json:"top_terms"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// QueryMetricsSummary is the overview block of the snapshot.
type QueryMetricsSummary struct {
	TotalQueries     int64   `json:"total_queries"`
	TimePeriod       string  `json:"time_period"`
	ZeroResultPct    float64 `json:"zero_result_pct"`
	ExactRepeatRate  float64 `json:"exact_repeat_rate"`
	SimilarQueryRate float64 `json:"similar_query_rate"`
	UniqueQueries    int64   `json:"unique_queries"`
}

// QueryTermCount is one term with its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerQueryMetricsResource exposes the telemetry snapshot as a readable
// resource. Called once from SetMetrics.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         queryMetricsURI,
			Description: "Query pattern telemetry: type mix, top terms, zero-result queries, latency distribution, repetition rates",
			MIMEType:    "application/json",
		},
		s.makeQueryMetricsHandler(),
	)
}

// makeQueryMetricsHandler builds the query_metrics read handler.
func (s *Server) makeQueryMetricsHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		s.mu.RLock()
		metrics := s.metrics
		s.mu.RUnlock()

		if metrics == nil {
			return nil, NewInvalidParamsError("query metrics are not enabled")
		}

		snapshot := metrics.Snapshot()

		output := QueryMetricsOutput{
			Summary: QueryMetricsSummary{
				TotalQueries:     snapshot.TotalQueries,
				TimePeriod:       "session",
				ZeroResultPct:    snapshot.ZeroResultPercentage(),
				ExactRepeatRate:  snapshot.ExactRepeatRate,
				SimilarQueryRate: snapshot.SimilarQueryRate,
				UniqueQueries:    snapshot.UniqueQueryCount,
			},
			QueryTypeCounts:     make(map[string]int64, len(snapshot.QueryTypeCounts)),
			TopTerms:            make([]QueryTermCount, 0, len(snapshot.TopTerms)),
			ZeroResultQueries:   snapshot.ZeroResultQueries,
			LatencyDistribution: make(map[string]int64, len(snapshot.LatencyDistribution)),
		}
		for qt, count := range snapshot.QueryTypeCounts {
			output.QueryTypeCounts[string(qt)] = count
		}
		for _, tc := range snapshot.TopTerms {
			output.TopTerms = append(output.TopTerms, QueryTermCount{Term: tc.Term, Count: tc.Count})
		}
		for bucket, count := range snapshot.LatencyDistribution {
			output.LatencyDistribution[string(bucket)] = count
		}

		content, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return nil, MapError(err)
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      queryMetricsURI,
					MIMEType: "application/json",
					Text:     string(content),
				},
			},
		}, nil
	}
}
