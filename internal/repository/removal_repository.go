package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/cutout/internal/logging"
)

// Job status values persisted in removal_jobs.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RemovalJob is the persisted record of one background removal request.
type RemovalJob struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	RequestID   string    `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	SHA1Hash    string    `gorm:"column:sha1_hash;index;size:40" json:"sha1_hash"`
	Width       int       `gorm:"column:width" json:"width"`
	Height      int       `gorm:"column:height" json:"height"`
	SourceBytes int64     `gorm:"column:source_bytes" json:"source_bytes"`
	ResultBytes int64     `gorm:"column:result_bytes" json:"result_bytes"`
	Format      string    `gorm:"column:format;size:16" json:"format"`
	Status      string    `gorm:"column:status;size:16" json:"status"`
	CacheHit    bool      `gorm:"column:cache_hit" json:"cache_hit"`
	DurationMs  int64     `gorm:"column:duration_ms" json:"duration_ms"`
	Detail      string    `gorm:"column:detail;type:text" json:"detail,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (RemovalJob) TableName() string {
	return "removal_jobs"
}

// MetricsAggregation holds the raw aggregates computed over removal_jobs.
type MetricsAggregation struct {
	TotalCount        int64   `gorm:"column:total_count"`
	SuccessCount      int64   `gorm:"column:success_count"`
	CacheHitCount     int64   `gorm:"column:cache_hit_count"`
	AverageDurationMs float64 `gorm:"column:average_duration_ms"`
}

// RemovalRepository provides persistence APIs for removal jobs.
type RemovalRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRemovalRepository creates a new repository instance.
func NewRemovalRepository(db *gorm.DB, logger *zap.Logger) *RemovalRepository {
	return &RemovalRepository{
		db:             db,
		logger:         logger.Named("removal_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *RemovalRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&RemovalJob{})
}

// SaveJob persists a removal job record.
func (r *RemovalRepository) SaveJob(ctx context.Context, job *RemovalJob) error {
	return r.executeWithRetry(ctx, "repository.save_job", job.RequestID, func() error {
		return r.db.WithContext(ctx).Create(job).Error
	})
}

// FindByRequestID retrieves a removal job by its request identifier.
func (r *RemovalRepository) FindByRequestID(ctx context.Context, requestID string) (*RemovalJob, error) {
	var job RemovalJob
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&job, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// AggregateMetrics computes the aggregate counters over all removal jobs.
func (r *RemovalRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var aggregation MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&RemovalJob{}).
			Select(
				"COUNT(*) AS total_count, " +
					"COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0) AS success_count, " +
					"COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) AS cache_hit_count, " +
					"COALESCE(AVG(duration_ms), 0) AS average_duration_ms").
			Scan(&aggregation).Error
	})
	if err != nil {
		return nil, err
	}
	return &aggregation, nil
}

// DeleteOlderThan removes job records created before the cutoff and reports
// how many rows were purged.
func (r *RemovalRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.executeWithRetry(ctx, "repository.delete_older_than", "", func() error {
		result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&RemovalJob{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}

func (r *RemovalRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
