package usecase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cutout/internal/imaging"
	"github.com/example/cutout/internal/logging"
	"github.com/example/cutout/internal/repository"
	"github.com/example/cutout/internal/segmenter"
)

// RemovalRepository defines the persistence operations needed by the use case.
type RemovalRepository interface {
	SaveJob(ctx context.Context, job *repository.RemovalJob) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.RemovalJob, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// RemovalUseCase orchestrates validation, model inference, compositing,
// caching, and persistence for background removal requests.
type RemovalUseCase struct {
	repo           RemovalRepository
	cache          Cache
	model          segmenter.Client
	logger         *zap.Logger
	cacheTTL       time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRemovalUseCase constructs a new use case instance.
func NewRemovalUseCase(repo RemovalRepository, cache Cache, model segmenter.Client, cacheTTL time.Duration, logger *zap.Logger) *RemovalUseCase {
	return &RemovalUseCase{
		repo:           repo,
		cache:          cache,
		model:          model,
		logger:         logger.Named("removal_usecase"),
		cacheTTL:       cacheTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Remove runs the full removal pipeline for one uploaded image and returns
// the request id together with the resulting PNG bytes. Identical inputs hit
// the content-hash cache and return byte-identical output.
func (uc *RemovalUseCase) Remove(ctx context.Context, imageBytes []byte) (string, []byte, error) {
	requestID := uuid.NewString()
	started := time.Now()
	opLogger := logging.WithOperation(uc.logger, "usecase.remove", requestID)

	sum := sha1.Sum(imageBytes)
	hash := hex.EncodeToString(sum[:])

	if cached, err := uc.cache.Get(ctx, resultCacheKey(hash)); err == nil {
		opLogger.Info("serving cached result", zap.String("sha1", hash))
		job := &repository.RemovalJob{
			RequestID:   requestID,
			SHA1Hash:    hash,
			SourceBytes: int64(len(imageBytes)),
			ResultBytes: int64(len(cached)),
			Status:      repository.StatusOK,
			CacheHit:    true,
			DurationMs:  time.Since(started).Milliseconds(),
			CreatedAt:   time.Now().UTC(),
		}
		// Hit rows must carry the same source metadata as miss rows.
		// Reading just the header keeps the hit path cheap.
		if cfg, format, err := image.DecodeConfig(bytes.NewReader(imageBytes)); err == nil {
			job.Width = cfg.Width
			job.Height = cfg.Height
			job.Format = format
		}
		uc.recordJob(ctx, opLogger, job)
		return requestID, cached, nil
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("cache lookup failed", zap.Error(err))
	}

	img, format, err := imaging.Decode(imageBytes)
	if err != nil {
		return "", nil, logging.NewOperationError("usecase.decode_image", requestID, err)
	}
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()

	modelInput, err := imaging.PrepareModelInput(img)
	if err != nil {
		return "", nil, logging.NewOperationError("usecase.prepare_model_input", requestID, err)
	}

	maskBytes, err := uc.segmentWithRetry(ctx, requestID, modelInput)
	if err != nil {
		opLogger.Error("model inference failed", zap.Error(err))
		uc.recordJob(ctx, opLogger, &repository.RemovalJob{
			RequestID:   requestID,
			SHA1Hash:    hash,
			Width:       width,
			Height:      height,
			SourceBytes: int64(len(imageBytes)),
			Format:      format,
			Status:      repository.StatusFailed,
			DurationMs:  time.Since(started).Milliseconds(),
			Detail:      err.Error(),
			CreatedAt:   time.Now().UTC(),
		})
		return "", nil, err
	}

	mask, err := imaging.DecodeMask(maskBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.decode_mask", requestID, fmt.Errorf("%w: %v", segmenter.ErrInference, err))
		opLogger.Error("model returned an unusable mask", zap.Error(wrapped))
		return "", nil, wrapped
	}

	mask = imaging.NormalizeMask(mask)
	mask = imaging.ResizeMask(mask, width, height)

	cutout, err := imaging.ApplyMask(img, mask)
	if err != nil {
		return "", nil, logging.NewOperationError("usecase.apply_mask", requestID, err)
	}

	pngBytes, err := imaging.EncodePNG(cutout)
	if err != nil {
		return "", nil, logging.NewOperationError("usecase.encode_result", requestID, err)
	}

	job := &repository.RemovalJob{
		RequestID:   requestID,
		SHA1Hash:    hash,
		Width:       width,
		Height:      height,
		SourceBytes: int64(len(imageBytes)),
		ResultBytes: int64(len(pngBytes)),
		Format:      format,
		Status:      repository.StatusOK,
		DurationMs:  time.Since(started).Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := uc.repo.SaveJob(ctx, job); err != nil {
		wrapped := logging.NewOperationError("usecase.save_job", requestID, err)
		opLogger.Error("failed to persist removal job", zap.Error(wrapped))
		return "", nil, wrapped
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultCacheKey(hash), pngBytes, uc.cacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache result bytes", zap.Error(err))
	}

	if serialized, err := json.Marshal(job); err != nil {
		opLogger.Warn("failed to serialize job record", zap.Error(err))
	} else if err := uc.withRedisRetry(ctx, requestID, "cache.set.job", func() error {
		return uc.cache.Set(ctx, jobCacheKey(requestID), serialized, uc.cacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache job record", zap.Error(err))
	}

	return requestID, pngBytes, nil
}

// GetResult retrieves a job record from cache or falls back to persistence.
func (uc *RemovalUseCase) GetResult(ctx context.Context, requestID string) (*repository.RemovalJob, error) {
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.job", jobCacheKey(requestID)); err == nil {
		var job repository.RemovalJob
		if err := json.Unmarshal(cached, &job); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached job", zap.Error(err))
		} else {
			return &job, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestID(ctx, requestID)
}

// recordJob persists a job record best effort. Metrics tolerate a lost row;
// the caller's response must not.
func (uc *RemovalUseCase) recordJob(ctx context.Context, opLogger *zap.Logger, job *repository.RemovalJob) {
	if err := uc.repo.SaveJob(ctx, job); err != nil {
		opLogger.Warn("failed to persist job record", zap.Error(err))
	}
}

func (uc *RemovalUseCase) segmentWithRetry(ctx context.Context, requestID string, modelInput []byte) ([]byte, error) {
	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, "usecase.segment", requestID)
	var lastErr error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, logging.NewOperationError("usecase.segment", requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		mask, err := uc.model.Segment(ctx, modelInput)
		if err == nil {
			if attempt > 0 {
				opLogger.Info("model call succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return mask, nil
		}
		lastErr = err

		if !errors.Is(err, segmenter.ErrInference) {
			return nil, logging.NewOperationError("usecase.segment", requestID, err)
		}
		opLogger.Warn("model call failed", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return nil, logging.NewOperationError("usecase.segment", requestID, lastErr)
}

func (uc *RemovalUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *RemovalUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) ([]byte, error) {
	var result []byte
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
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
