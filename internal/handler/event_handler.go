package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/smartlms/submission-core/internal/dto"
	"github.com/smartlms/submission-core/internal/middleware"
	"github.com/smartlms/submission-core/internal/service"
	"github.com/smartlms/submission-core/internal/utils"
)

// EventHandler serves the per-submission event feed over REST, SSE and websocket.
type EventHandler struct {
	events    service.EventService
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewEventHandler constructs a handler instance.
func NewEventHandler(events service.EventService, logger zerolog.Logger, keepAlive time.Duration) *EventHandler {
	return &EventHandler{
		events:    events,
		logger:    logger.With().Str("component", "event_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the event routes under the submissions group.
func (h *EventHandler) Register(router fiber.Router) {
	router.Get("/:id/events", h.list)
	router.Get("/:id/events/stream", h.stream)

	router.Use("/:id/events/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/:id/events/ws", websocket.New(h.handleConnection))
}

func (h *EventHandler) list(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid submission id")
	}

	afterSeq, err := parseQueryInt64(c, "after_seq")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid after_seq")
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid limit")
	}

	events, err := h.events.List(requestContext(c), submissionID, afterSeq, limit)
	if err != nil {
		h.logger.Error().Err(err).Uint("submission_id", submissionID).Msg("failed to list events")
		return utils.SendErrorCode(c, fiber.StatusInternalServerError, utils.CodeInternal, "internal server error")
	}

	return utils.SendSuccess(c, "events retrieved", events)
}

func (h *EventHandler) stream(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid submission id")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx := requestContext(c)
	ctx, cancel := context.WithCancel(ctx)

	stream, cleanup := h.events.Subscribe(submissionID)

	keepAliveInterval := h.keepAlive
	if keepAliveInterval <= 0 {
		keepAliveInterval = 30 * time.Second
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		ticker := time.NewTicker(keepAliveInterval / 2)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-stream:
				if !ok {
					return
				}
				if err := writeSubmissionEvent(w, event); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write submission event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write event keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *EventHandler) handleConnection(conn *websocket.Conn) {
	parsed, err := strconv.ParseUint(conn.Params("id"), 10, 64)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "invalid submission id"))
		_ = conn.Close()
		return
	}
	submissionID := uint(parsed)

	stream, cleanup := h.events.Subscribe(submissionID)
	defer func() {
		cleanup()
		_ = conn.Close()
	}()

	h.logger.Info().Uint("submission_id", submissionID).Msg("event websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepAliveInterval := h.keepAlive
	if keepAliveInterval <= 0 {
		keepAliveInterval = 30 * time.Second
	}
	ticker := time.NewTicker(keepAliveInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-stream:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug().Err(err).Msg("failed to write websocket event")
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			h.logger.Info().Uint("submission_id", submissionID).Msg("event websocket disconnected")
			return
		}
	}
}

func writeSubmissionEvent(w *bufio.Writer, event dto.EventResponse) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "id: %s\n", event.EventID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
