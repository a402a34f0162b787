package segmenter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/cutout/internal/logging"
)

const segmentPath = "/api/v1/segment"

// maxErrorBody caps how much of an upstream error response gets copied into
// error messages and logs.
const maxErrorBody = 512

// HTTPClient calls a model server that accepts a multipart image upload and
// responds with a grayscale PNG mask of the same dimensions.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient builds a model client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("segmenter"),
	}
}

// Segment uploads the image and returns the mask PNG produced by the model.
func (c *HTTPClient) Segment(ctx context.Context, imageData []byte) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "input.png")
	if err != nil {
		return nil, logging.NewOperationError("segmenter.build_request", "", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, logging.NewOperationError("segmenter.build_request", "", err)
	}
	if err := writer.Close(); err != nil {
		return nil, logging.NewOperationError("segmenter.build_request", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+segmentPath, body)
	if err != nil {
		return nil, logging.NewOperationError("segmenter.build_request", "", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "image/png")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("model request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("model returned error status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail))
		return nil, fmt.Errorf("%w: status %d: %s", ErrInference, resp.StatusCode, detail)
	}

	mask, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read mask: %v", ErrInference, err)
	}
	return mask, nil
}
