package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	qualityDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smartlms",
		Subsystem: "quality",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of quality evaluation requests",
	}, []string{"model"})

	qualityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartlms",
		Subsystem: "quality",
		Name:      "evaluation_failures_total",
		Help:      "Number of quality evaluation failures",
	}, []string{"model"})
)

// QualityConfig defines configuration options for the AI quality evaluator.
type QualityConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// QualityEvaluator scores writing quality via the OpenAI chat completion API.
type QualityEvaluator struct {
	client *openai.Client
	cfg    QualityConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewQualityEvaluator builds a new evaluator using the provided configuration.
func NewQualityEvaluator(cfg QualityConfig) (*QualityEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	tracer := otel.Tracer("github.com/smartlms/submission-core/pkg/evaluator/quality")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &QualityEvaluator{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Check sends the version's file references to the model and parses the response.
func (e *QualityEvaluator) Check(parent context.Context, req Request) (Result, error) {
	ctx, span := e.tracer.Start(parent, "quality.check", trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
		attribute.String("request_id", req.RequestID),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		User:        req.RequestID,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: qualitySystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildQualityPrompt(req),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := e.client.CreateChatCompletion(ctx, request)
	qualityDuration.WithLabelValues(e.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		qualityFailures.WithLabelValues(e.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("quality evaluate: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		qualityFailures.WithLabelValues(e.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	result, err := parseQualityResponse(content)
	if err != nil {
		qualityFailures.WithLabelValues(e.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	return result, nil
}

func qualitySystemPrompt() string {
	return "You are an automated academic writing reviewer. Respond with a JSON object containing score (0-100) and feedback" +
		" summarising strengths and weaknesses. Focus on clarity, structure, and argument quality."
}

func buildQualityPrompt(req Request) string {
	builder := strings.Builder{}
	builder.WriteString("# Submission Version ")
	builder.WriteString(fmt.Sprintf("%d", req.VersionID))
	builder.WriteString("\n\n## File References\n")
	for _, ref := range req.FileRefs {
		builder.WriteString(ref)
		builder.WriteString("\n")
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func parseQualityResponse(content string) (Result, error) {
	type payload struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return Result{}, fmt.Errorf("parse quality json: %w", err)
	}

	if data.Score < 0 {
		data.Score = 0
	}
	if data.Score > 100 {
		data.Score = 100
	}

	return Result{
		Score: data.Score,
		Detail: map[string]interface{}{
			"feedback_text": data.Feedback,
		},
	}, nil
}
