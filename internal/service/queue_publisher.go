// Package service holds adapters that connect the booking engine to
// outside systems.
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/queue"
)

// RabbitNotifier publishes booking events to the durable notification
// queue through the default exchange.  It keeps one channel open and
// re-dials after a failure.  Publish errors are returned to the engine,
// which logs them; a booking is never undone by a failed notification.
type RabbitNotifier struct {
	url   string
	queue string
	log   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ booking.Notifier = (*RabbitNotifier)(nil)

// NewRabbitNotifier returns a notifier for the broker at url.  No
// connection is made until the first event.
func NewRabbitNotifier(url string, log *zap.Logger) *RabbitNotifier {
	return &RabbitNotifier{url: url, queue: queue.NotificationQueue, log: log}
}

// Notify publishes ev as a persistent JSON message with a fresh
// MessageId.  One re-dial is attempted when the channel is broken.
func (n *RabbitNotifier) Notify(ctx context.Context, ev booking.Event) error {
	id := uuid.NewString()
	body, err := json.Marshal(queue.NewNotificationEvent(id, ev))
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Type:         string(ev.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := n.channel()
		if err != nil {
			return err
		}
		err = ch.PublishWithContext(ctx, "", n.queue, false, false, pub)
		if err == nil {
			return nil
		}
		n.log.Warn("rabbitmq: publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
		n.reset()
	}
	return errors.New("rabbitmq: publish failed after reconnect")
}

// channel returns the open channel, dialling and declaring the queue on
// first use.  Callers hold n.mu.
func (n *RabbitNotifier) channel() (*amqp.Channel, error) {
	if n.ch != nil && !n.ch.IsClosed() {
		return n.ch, nil
	}
	n.reset()
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbitmq: channel open")
	}
	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbitmq: queue declare")
	}
	n.conn, n.ch = conn, ch
	return ch, nil
}

func (n *RabbitNotifier) reset() {
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		_ = n.conn.Close()
	}
	n.conn, n.ch = nil, nil
}

// Close releases the broker connection.
func (n *RabbitNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset()
	return nil
}

// LogNotifier writes events to the logger.  It is used when RabbitMQ is
// disabled.
type LogNotifier struct {
	Log *zap.Logger
}

// Notify logs ev at info level.
func (n LogNotifier) Notify(_ context.Context, ev booking.Event) error {
	n.Log.Info("booking event",
		zap.String("type", string(ev.Type)),
		zap.Uint64("student_id", ev.StudentID),
		zap.Uint64("class_id", ev.ClassID),
		zap.Uint64("reservation_id", ev.ReservationID),
		zap.String("reason", ev.Reason))
	return nil
}
