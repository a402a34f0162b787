package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/cutout/internal/auth"
	"github.com/example/cutout/internal/imaging"
	"github.com/example/cutout/internal/repository"
	"github.com/example/cutout/internal/segmenter"
	"github.com/example/cutout/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	removeErr    error
	result       []byte
	requestID    string
	job          *repository.RemovalJob
	jobErr       error
	summary      *usecase.MetricsSummary
	removeInputs [][]byte
}

func (s *stubService) Remove(ctx context.Context, imageBytes []byte) (string, []byte, error) {
	s.removeInputs = append(s.removeInputs, imageBytes)
	if s.removeErr != nil {
		return "", nil, s.removeErr
	}
	return s.requestID, s.result, nil
}

func (s *stubService) RemoveBatch(ctx context.Context, inputs []usecase.BatchInput) (string, []byte, error) {
	if s.removeErr != nil {
		return "", nil, s.removeErr
	}
	return "batch-1", s.result, nil
}

func (s *stubService) GetResult(ctx context.Context, requestID string) (*repository.RemovalJob, error) {
	if s.jobErr != nil {
		return nil, s.jobErr
	}
	return s.job, nil
}

func (s *stubService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return s.summary, nil
}

func newTestRouter(svc RemovalService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.MaxMultipartMemory = DefaultMaxUploadSize
	RegisterRoutes(router, svc, Config{
		MaxUploadSize:  DefaultMaxUploadSize,
		AuthMiddleware: auth.JWTMiddleware(testJWTSecret, ""),
	})
	return router
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, field, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="upload"`, field))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func postRemove(router *gin.Engine, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/remove", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestRemoveReturnsPNGWithRequestID(t *testing.T) {
	svc := &stubService{requestID: "req-42", result: []byte("png-bytes")}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image", "image/png", smallPNG(t))
	resp := postRemove(router, body, contentType)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if got := resp.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("unexpected request id header: %s", got)
	}
	if resp.Body.String() != "png-bytes" {
		t.Fatal("response body does not match service result")
	}
}

func TestRemoveRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(&stubService{})

	body, contentType := buildMultipartBody(t, "image", "image/png", bytes.Repeat([]byte("a"), DefaultMaxUploadSize+1))
	resp := postRemove(router, body, contentType)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestRemoveRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(&stubService{})

	body, contentType := buildMultipartBody(t, "image", "text/plain", []byte("hello"))
	resp := postRemove(router, body, contentType)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestRemoveMapsDecodeFailureToBadRequest(t *testing.T) {
	svc := &stubService{removeErr: fmt.Errorf("remove: %w", imaging.ErrNotAnImage)}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image", "image/png", smallPNG(t))
	resp := postRemove(router, body, contentType)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestRemoveMapsModelFailureToBadGateway(t *testing.T) {
	svc := &stubService{removeErr: fmt.Errorf("remove: %w", segmenter.ErrInference)}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "image", "image/png", smallPNG(t))
	resp := postRemove(router, body, contentType)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, resp.Code)
	}
}

func TestRemoveRequiresImageField(t *testing.T) {
	router := newTestRouter(&stubService{})

	body, contentType := buildMultipartBody(t, "wrong_field", "image/png", smallPNG(t))
	resp := postRemove(router, body, contentType)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestBatchReturnsZip(t *testing.T) {
	svc := &stubService{result: []byte("zip-bytes")}
	router := newTestRouter(svc)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range []string{"a.png", "b.png"} {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, name))
		header.Set("Content-Type", "image/png")
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		if _, err := part.Write(smallPNG(t)); err != nil {
			t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/remove/batch", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if resp.Header().Get("X-Batch-ID") == "" {
		t.Fatal("expected a batch id header")
	}
}

func TestMetricsRequiresToken(t *testing.T) {
	router := newTestRouter(&stubService{summary: &usecase.MetricsSummary{}})

	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestMetricsReturnsSummaryForValidToken(t *testing.T) {
	router := newTestRouter(&stubService{summary: &usecase.MetricsSummary{TotalRequests: 5, SuccessRate: 1}})

	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "ops"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}

	var summary usecase.MetricsSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.TotalRequests != 5 {
		t.Fatalf("unexpected total requests: %d", summary.TotalRequests)
	}
}

func TestResultReturnsNotFoundForUnknownID(t *testing.T) {
	router := newTestRouter(&stubService{jobErr: fmt.Errorf("record not found")})

	req := httptest.NewRequest(http.MethodGet, "/v1/result/unknown", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "ops"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
