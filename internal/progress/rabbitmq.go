package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishBuffer = 256

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// RabbitMQ publishes progress events to an exchange. Events are queued
// on an internal buffer and written by a background goroutine; when the
// buffer is full the event is dropped rather than blocking a worker.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger

	events    chan string
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	r := &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
		events:     make(chan string, publishBuffer),
	}

	r.wg.Add(1)
	go r.publishLoop()

	return r, nil
}

// EventMessage is the wire form of one progress event.
type EventMessage struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// Publish enqueues the event. It never blocks; events beyond the
// buffer capacity are dropped.
func (r *RabbitMQ) Publish(event string) {
	select {
	case r.events <- event:
	default:
		r.logger.Debug("progress buffer full, event dropped")
	}
}

func (r *RabbitMQ) publishLoop() {
	defer r.wg.Done()

	for event := range r.events {
		body, err := json.Marshal(EventMessage{
			Event:     event,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			r.logger.Error("marshal progress event", "error", err)
			continue
		}

		err = r.channel.PublishWithContext(
			context.Background(),
			r.exchange,
			r.routingKey,
			false,
			false,
			amqp.Publishing{
				DeliveryMode: amqp.Persistent,
				ContentType:  "application/json",
				Body:         body,
				Timestamp:    time.Now(),
			},
		)
		if err != nil {
			r.logger.Error("publish progress event", "error", err)
		}
	}
}

// Close drains pending events and shuts the connection down.
func (r *RabbitMQ) Close() error {
	r.closeOnce.Do(func() { close(r.events) })
	r.wg.Wait()

	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
