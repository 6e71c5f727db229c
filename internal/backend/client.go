package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"livemic/internal/domain"
	"livemic/internal/observe"
)

const (
	headerRequestID     = "X-Request-ID"
	headerChunkSequence = "X-Chunk-Sequence"
)

// Config controls the live recording HTTP endpoints.
type Config struct {
	BaseURL       string
	StartPath     string
	AppendPath    string
	StopPath      string
	AuthToken     string
	SessionCookie string
	UserAgent     string
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return domain.ErrBackendRejected }

// Client implements ports.SessionBackend over HTTP.
type Client struct {
	http    *resty.Client
	cfg     Config
	metrics *observe.Metrics
}

// NewClient builds a backend client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, metrics *observe.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:5000/api/asr/live"
	}
	if cfg.StartPath == "" {
		cfg.StartPath = "start"
	}
	if cfg.AppendPath == "" {
		cfg.AppendPath = "append/{rec_id}"
	}
	if cfg.StopPath == "" {
		cfg.StopPath = "stop/{rec_id}"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "livemic"
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	var rc *resty.Client
	if httpClient != nil {
		rc = resty.NewWithClient(httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(cfg.BaseURL).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		rc.SetAuthToken(token)
	}
	if cookie := strings.TrimSpace(cfg.SessionCookie); cookie != "" {
		name, value, ok := strings.Cut(cookie, "=")
		if !ok {
			name, value = "session", cookie
		}
		rc.SetCookie(&http.Cookie{Name: name, Value: value})
	}

	return &Client{http: rc, cfg: cfg, metrics: metrics}
}

type startResponse struct {
	RecID string `json:"rec_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StartSession asks the backend for a new recording id.
func (c *Client) StartSession(ctx context.Context, languageHint string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "backend.start", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req := c.newRequest(ctx)
	if hint := strings.TrimSpace(languageHint); hint != "" {
		req.SetQueryParam("lang", hint)
	}

	start := time.Now()
	resp, err := req.Post(c.cfg.StartPath)
	err = c.checkResponse("start", resp, err)
	var out startResponse
	if err == nil {
		err = decode("start", resp.Body(), &out)
	}
	if err == nil && strings.TrimSpace(out.RecID) == "" {
		err = fmt.Errorf("start: %w: response has no rec_id", domain.ErrBackendRejected)
	}
	c.finish(ctx, span, "start", start, err)
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("livemic.session_id", out.RecID))
	return out.RecID, nil
}

// AppendChunk uploads one chunk. Any 2xx response acknowledges it.
func (c *Client) AppendChunk(ctx context.Context, sessionID string, chunk domain.Chunk) error {
	ctx, span := observe.StartSpan(ctx, "backend.append",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("livemic.session_id", sessionID),
			attribute.Int64("livemic.chunk.sequence", chunk.Sequence),
			attribute.Int("livemic.chunk.bytes", len(chunk.Data)),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.newRequest(ctx).
		SetPathParam("rec_id", sessionID).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader(headerChunkSequence, strconv.FormatInt(chunk.Sequence, 10)).
		SetBody(chunk.Data).
		Post(c.cfg.AppendPath)
	err = c.checkResponse("append", resp, err)
	c.finish(ctx, span, "append", start, err)
	return err
}

// StopSession finalizes the recording and returns the backend's transcript.
func (c *Client) StopSession(ctx context.Context, sessionID string, language string) (domain.Transcript, error) {
	ctx, span := observe.StartSpan(ctx, "backend.stop",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("livemic.session_id", sessionID)),
	)
	defer span.End()

	req := c.newRequest(ctx).SetPathParam("rec_id", sessionID)
	if lang := strings.TrimSpace(language); lang != "" {
		req.SetQueryParam("lang", lang)
	}

	start := time.Now()
	resp, err := req.Post(c.cfg.StopPath)
	err = c.checkResponse("stop", resp, err)
	var out domain.Transcript
	if err == nil {
		err = decode("stop", resp.Body(), &out)
	}
	c.finish(ctx, span, "stop", start, err)
	if err != nil {
		return domain.Transcript{}, err
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader(headerRequestID, uuid.NewString())
}

func (c *Client) checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	return &StatusError{Op: op, StatusCode: resp.StatusCode(), Message: errorMessage(resp.Body())}
}

func (c *Client) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	elapsed := time.Since(start)
	c.metrics.RecordBackendCall(ctx, op, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Debug("backend call failed", "op", op, "elapsed", elapsed, "err", err)
		return
	}
	observe.Logger(ctx).Debug("backend call done", "op", op, "elapsed", elapsed)
}

func decode(op string, body []byte, out any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return fmt.Errorf("%s: %w: empty response body", op, domain.ErrBackendRejected)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrBackendRejected, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}
