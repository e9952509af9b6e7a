package handler

import (
	"context"
	"net/http"
	"time"

	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/service"
	"go-clinic-queue/internal/usecase"
	"go-clinic-queue/pkg/clock"
	"go-clinic-queue/pkg/metrics"
	"go-clinic-queue/pkg/response"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	streamEventSnapshot = "snapshot"
	streamEventRefresh  = "refresh"
	streamWriteWait     = 10 * time.Second
)

// QueueStreamConfig tunes the live queue push.
type QueueStreamConfig struct {
	// RefreshInterval re-sends the queue so waiting times keep counting up
	RefreshInterval time.Duration
	// ReorderCooldown suppresses timer refreshes for this long after a reorder event
	ReorderCooldown time.Duration
}

// QueueStreamHandler pushes a doctor's queue over a websocket whenever it changes.
type QueueStreamHandler struct {
	queueUsecase usecase.QueueUsecase
	broker       *service.QueueEventBroker
	clock        clock.Clock
	metrics      *metrics.Metrics
	config       QueueStreamConfig
	log          *logrus.Logger
	upgrader     websocket.Upgrader
}

func NewQueueStreamHandler(
	queueUsecase usecase.QueueUsecase,
	broker *service.QueueEventBroker,
	clk clock.Clock,
	m *metrics.Metrics,
	config QueueStreamConfig,
	allowedOrigin string,
	log *logrus.Logger,
) *QueueStreamHandler {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 30 * time.Second
	}
	return &QueueStreamHandler{
		queueUsecase: queueUsecase,
		broker:       broker,
		clock:        clk,
		metrics:      m,
		config:       config,
		log:          log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

// Stream serves GET /queues/{doctorId}/stream?date=. Access is checked with a plain queue
// read before upgrading, so a forbidden caller gets an ordinary HTTP error.
func (h *QueueStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDFromPath(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		response.BadRequest(w, "date is required")
		return
	}

	snapshot, err := h.queueUsecase.GetQueue(r.Context(), doctorID, date)
	if err != nil {
		writeQueueError(w, err, "Failed to get queue")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.broker.Subscribe(ctx, doctorID)
	if err != nil {
		h.log.Warnf("Failed to subscribe to queue events for doctor %s: %+v", doctorID, err)
		response.InternalServerError(w, "Failed to open queue stream")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.log.Debugf("Queue stream upgrade failed: %+v", err)
		return
	}
	defer conn.Close()

	h.metrics.StreamConnections.Inc()
	defer h.metrics.StreamConnections.Dec()

	// Reader: only watches for the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := h.clock.NewTicker(h.config.RefreshInterval)
	defer ticker.Stop()

	if err := h.write(conn, streamEventSnapshot, snapshot); err != nil {
		return
	}

	var holdUntil time.Time
	for {
		trigger := ""
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !event.AppliesTo(date) {
				continue
			}
			if event.Type == service.EventQueueReordered {
				holdUntil = h.clock.Now().Add(h.config.ReorderCooldown)
			}
			trigger = event.Type
		case <-ticker.C():
			if h.clock.Now().Before(holdUntil) {
				continue
			}
			trigger = streamEventRefresh
		}

		q, err := h.queueUsecase.GetQueue(ctx, doctorID, date)
		if err != nil {
			h.log.Warnf("Failed to refresh queue stream for doctor %s: %+v", doctorID, err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "queue unavailable"),
				time.Now().Add(streamWriteWait))
			return
		}
		if err := h.write(conn, trigger, q); err != nil {
			return
		}
	}
}

func (h *QueueStreamHandler) write(conn *websocket.Conn, event string, q *dto.QueueResponse) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(dto.QueueStreamMessage{Event: event, Queue: q}); err != nil {
		h.log.Debugf("Queue stream write failed: %+v", err)
		return err
	}
	return nil
}
