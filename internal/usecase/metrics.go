package usecase

import "context"

// MetricsSummary represents aggregated removal insights.
type MetricsSummary struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	CacheHits          int64   `json:"cache_hits"`
	AverageDurationMs  float64 `json:"average_duration_ms"`
}

// GetMetricsSummary aggregates removal metrics from persisted jobs.
func (uc *RemovalUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:      aggregation.TotalCount,
		SuccessfulRequests: aggregation.SuccessCount,
		CacheHits:          aggregation.CacheHitCount,
		AverageDurationMs:  aggregation.AverageDurationMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
