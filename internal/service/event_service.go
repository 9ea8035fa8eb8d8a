package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/smartlms/submission-core/internal/dto"
	"github.com/smartlms/submission-core/internal/models"
	"github.com/smartlms/submission-core/internal/observability"
	"github.com/smartlms/submission-core/internal/repository"
)

const eventBufferSize = 16

// EventService publishes the totally ordered per-submission lifecycle event
// stream. Delivery to external consumers is at-least-once; consumers dedupe
// on event id.
type EventService interface {
	Emit(ctx context.Context, submissionID uint, eventType string, payload map[string]interface{}) error
	List(ctx context.Context, submissionID uint, afterSeq int64, limit int) ([]dto.EventResponse, error)
	Subscribe(submissionID uint) (<-chan dto.EventResponse, func())
	Start(ctx context.Context)
}

type eventService struct {
	repo        repository.EventRepository
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	tracer      trace.Tracer
	broker      *eventBroker
	nodeID      string
}

type transportEnvelope struct {
	Source string            `json:"source"`
	Event  dto.EventResponse `json:"event"`
	SentAt time.Time         `json:"sent_at"`
}

type eventBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan dto.EventResponse]struct{}
}

// NewEventService constructs the lifecycle event emitter.
func NewEventService(repo repository.EventRepository, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) EventService {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &eventService{
		repo:        repo,
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "event_service").Logger(),
		tracer:      otel.Tracer("github.com/smartlms/submission-core/internal/service/event"),
		broker: &eventBroker{
			subscribers: make(map[uint]map[chan dto.EventResponse]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *eventService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

// Emit persists the event with the next per-submission sequence number and
// fans it out to local and remote subscribers.
func (s *eventService) Emit(ctx context.Context, submissionID uint, eventType string, payload map[string]interface{}) error {
	spanCtx, span := s.tracer.Start(ctx, "events.emit", trace.WithAttributes(
		attribute.Int64("event.submission_id", int64(submissionID)),
		attribute.String("event.type", eventType),
	))
	defer span.End()

	model := models.SubmissionEvent{
		EventID:      uuid.NewString(),
		SubmissionID: submissionID,
		Type:         eventType,
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			span.RecordError(err)
			return err
		}
		model.Payload = datatypes.JSON(raw)
	}

	if err := s.repo.Append(spanCtx, &model); err != nil {
		span.RecordError(err)
		return err
	}

	response := dto.NewEventResponse(model)
	s.broadcast(response)
	if err := s.publish(spanCtx, response); err != nil {
		s.logger.Warn().Err(err).Str("event_id", response.EventID).Msg("failed to publish event to broker")
	}

	observability.EventsPublished().WithLabelValues(eventType).Inc()

	return nil
}

func (s *eventService) List(ctx context.Context, submissionID uint, afterSeq int64, limit int) ([]dto.EventResponse, error) {
	events, err := s.repo.ListBySubmission(ctx, submissionID, afterSeq, limit)
	if err != nil {
		return nil, err
	}

	return dto.NewEventResponseSlice(events), nil
}

func (s *eventService) Subscribe(submissionID uint) (<-chan dto.EventResponse, func()) {
	channel := make(chan dto.EventResponse, eventBufferSize)

	s.broker.subscribe(submissionID, channel)
	observability.EventSubscribersActive().Inc()

	cleanup := func() {
		s.broker.unsubscribe(submissionID, channel)
		observability.EventSubscribersActive().Dec()
	}

	return channel, cleanup
}

func (s *eventService) broadcast(event dto.EventResponse) {
	s.broker.broadcast(event.SubmissionID, event)
}

func (s *eventService) publish(ctx context.Context, event dto.EventResponse) error {
	envelope := transportEnvelope{
		Source: s.nodeID,
		Event:  event,
		SentAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *eventService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("event redis subscription closed")
			return
		}
		s.handleRemote([]byte(msg.Payload))
	}
}

func (s *eventService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "smartlms-submission-events", func(msg *nats.Msg) {
		s.handleRemote(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain event nats subscription")
		}
	}()
}

func (s *eventService) handleRemote(payload []byte) {
	var envelope transportEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid event envelope payload")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}

	s.broadcast(envelope.Event)
}

func (b *eventBroker) subscribe(submissionID uint, ch chan dto.EventResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[submissionID]; !exists {
		b.subscribers[submissionID] = make(map[chan dto.EventResponse]struct{})
	}
	b.subscribers[submissionID][ch] = struct{}{}
}

func (b *eventBroker) unsubscribe(submissionID uint, ch chan dto.EventResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[submissionID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, submissionID)
		}
	}
}

func (b *eventBroker) broadcast(submissionID uint, event dto.EventResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.subscribers[submissionID]
	for ch := range subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
