package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const RedisQueueEventChannelPrefix = "queue:events:"

// Queue event types
const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentCheckedIn = "appointment.checked_in"
	EventAppointmentCalled    = "appointment.called"
	EventAppointmentCompleted = "appointment.completed"
	EventAppointmentNoShow    = "appointment.no_show"
	EventQueueReordered       = "queue.reordered"
	EventQueueReset           = "queue.reset"
	EventBreakStarted         = "break.started"
	EventBreakEnded           = "break.ended"
)

// QueueEvent notifies live queue viewers that a provider's queue changed.
// Date is empty for provider-wide events such as breaks.
type QueueEvent struct {
	Type          string     `json:"type"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	Date          string     `json:"date,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Version       int64      `json:"version,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// AppliesTo reports whether a viewer of the given day should react to the event
func (e QueueEvent) AppliesTo(date string) bool {
	return e.Date == "" || e.Date == date
}

// QueueEventBroker fans queue events out to every instance over Redis pub/sub
type QueueEventBroker struct {
	redisClient *redis.Client
	log         *logrus.Logger
}

func NewQueueEventBroker(redisClient *redis.Client, log *logrus.Logger) *QueueEventBroker {
	return &QueueEventBroker{
		redisClient: redisClient,
		log:         log,
	}
}

// Publish sends an event on the provider's channel. Delivery is best effort.
func (b *QueueEventBroker) Publish(ctx context.Context, event QueueEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal queue event: %w", err)
	}
	if err := b.redisClient.Publish(ctx, b.channel(event.DoctorID), payload).Err(); err != nil {
		b.log.Warnf("Failed to publish %s for doctor %s: %+v", event.Type, event.DoctorID, err)
		return fmt.Errorf("publish queue event: %w", err)
	}
	return nil
}

// Subscribe streams the provider's events until ctx is cancelled. The returned channel
// is closed when the subscription ends.
func (b *QueueEventBroker) Subscribe(ctx context.Context, doctorID uuid.UUID) (<-chan QueueEvent, error) {
	pubsub := b.redisClient.Subscribe(ctx, b.channel(doctorID))

	// Wait for the subscription to be confirmed so no event published after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe queue events for doctor %s: %w", doctorID, err)
	}

	events := make(chan QueueEvent, 16)
	go func() {
		defer func() {
			pubsub.Close()
			close(events)
		}()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event QueueEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warnf("Dropping malformed queue event: %+v", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (b *QueueEventBroker) channel(doctorID uuid.UUID) string {
	return RedisQueueEventChannelPrefix + doctorID.String()
}
