package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/cutout/internal/imaging"
	"github.com/example/cutout/internal/repository"
	"github.com/example/cutout/internal/segmenter"
	"github.com/example/cutout/internal/usecase"
)

// DefaultMaxUploadSize bounds a single uploaded file when no limit is configured.
const DefaultMaxUploadSize = 20 << 20

// RemovalService is the slice of the use case the HTTP layer depends on.
type RemovalService interface {
	Remove(ctx context.Context, imageBytes []byte) (string, []byte, error)
	RemoveBatch(ctx context.Context, inputs []usecase.BatchInput) (string, []byte, error)
	GetResult(ctx context.Context, requestID string) (*repository.RemovalJob, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Config carries the handler-level settings.
type Config struct {
	MaxUploadSize  int64
	AuthMiddleware gin.HandlerFunc
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc RemovalService, cfg Config) {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")

	v1.POST("/remove", func(c *gin.Context) {
		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}

		data, ok := readUpload(c, file, cfg.MaxUploadSize)
		if !ok {
			return
		}

		requestID, result, err := svc.Remove(c.Request.Context(), data)
		if err != nil {
			abortWithRemovalError(c, err)
			return
		}

		c.Header("X-Request-ID", requestID)
		c.Data(http.StatusOK, "image/png", result)
	})

	v1.POST("/remove/batch", func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form is required"})
			return
		}
		files := form.File["images"]
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one image is required"})
			return
		}

		inputs := make([]usecase.BatchInput, 0, len(files))
		for _, file := range files {
			data, ok := readUpload(c, file, cfg.MaxUploadSize)
			if !ok {
				return
			}
			inputs = append(inputs, usecase.BatchInput{Name: file.Filename, Data: data})
		}

		batchID, archive, err := svc.RemoveBatch(c.Request.Context(), inputs)
		if err != nil {
			abortWithRemovalError(c, err)
			return
		}

		c.Header("X-Batch-ID", batchID)
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="cutout_%s.zip"`, batchID))
		c.Data(http.StatusOK, "application/zip", archive)
	})

	protected := v1.Group("")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware)
	}

	protected.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		job, err := svc.GetResult(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, job)
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readUpload enforces the size limit and content-type allowlist before any
// decoding happens. It writes the error response itself and reports whether
// the caller may continue.
func readUpload(c *gin.Context, file *multipart.FileHeader, maxSize int64) ([]byte, bool) {
	if file.Size > maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "uploaded file is too large"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open upload"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return nil, false
	}
	if int64(len(data)) > maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "uploaded file is too large"})
		return nil, false
	}

	if contentType := imaging.SniffContentType(data); !imaging.IsAcceptedType(contentType) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("unsupported content type %s", contentType)})
		return nil, false
	}
	return data, true
}

func abortWithRemovalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image format"})
	case errors.Is(err, imaging.ErrNotAnImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "image data could not be decoded"})
	case errors.Is(err, segmenter.ErrInference):
		c.JSON(http.StatusBadGateway, gin.H{"error": "background removal model is unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
