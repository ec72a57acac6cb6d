// Package queue wraps the AMQP broker connection used for job dispatch
// and kill broadcasts.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MaxRetries bounds connection attempts before a dial is declared fatal.
const MaxRetries = 8

// TransportError reports that the broker was unreachable after exhausting
// connection retries. Callers treat it as fatal for the triggering request.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("message broker unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is a thin wrapper around an AMQP connection. Sends open a fresh
// connection per publish; listeners hold theirs open.
type Client struct {
	url   string
	log   *slog.Logger
	sleep func(time.Duration)
}

// New creates a queue client for the given broker URL.
func New(url string, log *slog.Logger) *Client {
	return &Client{url: url, log: log, sleep: time.Sleep}
}

// Backoff returns the delay before the given retry attempt (1-based):
// 1s, 2s, 4s, doubling up to the retry cap.
func Backoff(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

// dial establishes a connection, retrying with exponential backoff. After
// MaxRetries failures the last error is returned wrapped in TransportError.
func (c *Client) dial() (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		conn, err := amqp.Dial(c.url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt < MaxRetries {
			delay := Backoff(attempt)
			c.log.Error("could not connect to broker, retrying",
				"delay", delay.String(), "attempt", attempt)
			c.sleep(delay)
		}
	}
	return nil, &TransportError{Err: lastErr}
}

// Send declares the queue as durable and publishes the payload with
// persistent delivery. Connection failure after retries surfaces to the
// caller, never silently swallowed.
func (c *Client) Send(ctx context.Context, queueName string, payload []byte) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	c.log.Info("sending message", "queue", queueName)
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         payload,
	})
}

// Broadcast publishes on a non-durable fanout exchange. There is no
// delivery guarantee; listeners that are offline miss the message.
func (c *Client) Broadcast(ctx context.Context, exchange string, payload []byte) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "fanout", false, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return ch.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

// Listen consumes the durable queue with one in-flight message at a time.
// Handler errors are logged and the message is acknowledged anyway:
// delivery is at-least-once and a crashing handler means duplicate or lost
// processing is accepted rather than poisoning the queue.
func (c *Client) Listen(ctx context.Context, queueName string, handler func(context.Context, []byte) error) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", queueName, err)
	}

	c.log.Info("listening", "queue", queueName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", queueName)
			}
			if err := handler(ctx, d.Body); err != nil {
				c.log.Error("handler failed", "queue", queueName, "error", err)
			}
			if err := d.Ack(false); err != nil {
				c.log.Error("ack failed", "queue", queueName, "error", err)
			}
		}
	}
}

// ListenBroadcast binds an exclusive, auto-named queue to the fanout
// exchange and invokes the handler for every broadcast received while
// connected.
func (c *Client) ListenBroadcast(ctx context.Context, exchange string, handler func(context.Context, []byte)) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "fanout", false, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare broadcast queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind broadcast queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume broadcasts: %w", err)
	}

	c.log.Info("listening for broadcasts", "exchange", exchange)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broadcast channel closed for exchange %s", exchange)
			}
			handler(ctx, d.Body)
		}
	}
}
