// Package broker connects the evaluation core to RabbitMQ: a
// confirming publisher for runner requests and a manually-acked
// consumer for runner results. Both survive broker restarts by
// redialing; the publisher redials lazily per publish, the consumer
// runs a reconnect loop with capped exponential backoff.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/evalhq/evalcore/eval/emit"
)

// Publisher publishes runner requests to a durable queue with
// publisher confirms. Messages are persistent, so a broker restart
// cannot drop an accepted request.
type Publisher struct {
	url     string
	queue   string
	emitter emit.Emitter

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
	closed   bool
}

// NewPublisher creates a publisher for the named queue. The connection
// is established lazily on first publish; emitter may be nil.
func NewPublisher(url, queue string, emitter emit.Emitter) *Publisher {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Publisher{url: url, queue: queue, emitter: emitter}
}

// ensureChannel dials and declares under p.mu.
func (p *Publisher) ensureChannel() error {
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}
	if p.ch != nil {
		return nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare queue %q: %w", p.queue, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to enable confirms: %w", err)
	}

	p.conn = conn
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.emitter.Emit(emit.Event{Msg: "publisher_connected", Meta: map[string]any{"queue": p.queue}})
	return nil
}

// teardown drops the current connection so the next publish redials.
// Caller holds p.mu.
func (p *Publisher) teardown() {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
	p.ch = nil
	p.confirms = nil
}

// Publish sends one persistent message and waits for the broker
// confirm. On any failure the connection is torn down so the caller's
// retry gets a fresh dial.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		p.teardown()
		return fmt.Errorf("failed to publish: %w", err)
	}

	select {
	case <-ctx.Done():
		p.teardown()
		return ctx.Err()
	case confirm, ok := <-p.confirms:
		if !ok || !confirm.Ack {
			p.teardown()
			return fmt.Errorf("broker rejected publish")
		}
	}
	return nil
}

// Close shuts the publisher down. Further publishes fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.teardown()
	return nil
}

// reconnectDelay is the consumer's backoff schedule: doubling from
// 500 ms, capped at 30 s, never giving up.
func reconnectDelay(attempt int) time.Duration {
	const base = 500 * time.Millisecond
	const ceiling = 30 * time.Second
	if attempt > 6 {
		return ceiling
	}
	d := base * (1 << attempt)
	if d > ceiling {
		return ceiling
	}
	return d
}
