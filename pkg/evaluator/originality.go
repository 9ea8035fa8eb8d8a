package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	originalityDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "smartlms",
		Subsystem: "originality",
		Name:      "check_duration_seconds",
		Help:      "Duration of originality check requests",
	})

	originalityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smartlms",
		Subsystem: "originality",
		Name:      "check_failures_total",
		Help:      "Number of originality check failures",
	})
)

// originalityResponseSchema pins the contract of the similarity service so a
// malformed upstream response surfaces as a failed attempt, never as a
// zero-score completion.
const originalityResponseSchema = `{
  "type": "object",
  "required": ["score", "match_summary"],
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 100},
    "match_summary": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "similarity"],
        "properties": {
          "source": {"type": "string"},
          "similarity": {"type": "number", "minimum": 0, "maximum": 100}
        }
      }
    }
  }
}`

// OriginalityConfig defines configuration options for the originality evaluator client.
type OriginalityConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// OriginalityEvaluator calls the external similarity service over HTTP.
// Retried calls reuse the request id, which the service treats as an
// idempotency key.
type OriginalityEvaluator struct {
	baseURL string
	apiKey  string
	client  *http.Client
	schema  *jsonschema.Schema
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewOriginalityEvaluator builds the HTTP client for the similarity service.
func NewOriginalityEvaluator(cfg OriginalityConfig) (*OriginalityEvaluator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("originality base url is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	schema, err := jsonschema.CompileString("originality_response.json", originalityResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile originality response schema: %w", err)
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &OriginalityEvaluator{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		schema:  schema,
		tracer:  otel.Tracer("github.com/smartlms/submission-core/pkg/evaluator/originality"),
		logger:  logger,
	}, nil
}

type originalityRequest struct {
	RequestID string   `json:"request_id"`
	VersionID uint     `json:"version_id"`
	FileRefs  []string `json:"file_refs"`
}

// Check submits the version's file references for similarity analysis.
func (e *OriginalityEvaluator) Check(parent context.Context, req Request) (Result, error) {
	ctx, span := e.tracer.Start(parent, "originality.check", trace.WithAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.Int64("version_id", int64(req.VersionID)),
	))
	defer span.End()

	body, err := json.Marshal(originalityRequest{
		RequestID: req.RequestID,
		VersionID: req.VersionID,
		FileRefs:  req.FileRefs,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal originality request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/checks", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build originality request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.RequestID)
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	originalityDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		originalityFailures.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("originality check: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		originalityFailures.Inc()
		span.RecordError(err)
		return Result{}, fmt.Errorf("read originality response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		originalityFailures.Inc()
		err := fmt.Errorf("originality service returned status %d", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	var document interface{}
	if err := json.Unmarshal(payload, &document); err != nil {
		originalityFailures.Inc()
		span.RecordError(err)
		return Result{}, fmt.Errorf("decode originality response: %w", err)
	}

	if err := e.schema.Validate(document); err != nil {
		originalityFailures.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema_validation_failed")
		return Result{}, fmt.Errorf("originality response failed schema validation: %w", err)
	}

	var parsed struct {
		Score        float64                  `json:"score"`
		MatchSummary []map[string]interface{} `json:"match_summary"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		originalityFailures.Inc()
		return Result{}, fmt.Errorf("parse originality response: %w", err)
	}

	detailMatches := make([]interface{}, 0, len(parsed.MatchSummary))
	for _, match := range parsed.MatchSummary {
		detailMatches = append(detailMatches, match)
	}

	return Result{
		Score: parsed.Score,
		Detail: map[string]interface{}{
			"match_summary": detailMatches,
		},
	}, nil
}
