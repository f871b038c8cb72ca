package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/evalhq/evalcore/eval"
	"github.com/evalhq/evalcore/eval/emit"
)

// Consumer receives runner results from a fan-out exchange through a
// named durable queue. Deliveries are manually acknowledged by the
// listener; prefetch is 1 so a crash redelivers at most one message.
// The consumer reconnects forever with capped backoff; Deliveries only
// closes after Close or context cancellation.
type Consumer struct {
	url      string
	exchange string
	queue    string
	emitter  emit.Emitter

	out    chan eval.Delivery
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	ch   *amqp.Channel
	conn *amqp.Connection
}

// NewConsumer creates a consumer bound to the fan-out exchange and
// starts its receive loop. emitter may be nil.
func NewConsumer(ctx context.Context, url, exchange, queue string, emitter emit.Emitter) *Consumer {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Consumer{
		url:      url,
		exchange: exchange,
		queue:    queue,
		emitter:  emitter,
		out:      make(chan eval.Delivery),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.receiveLoop(ctx)
	return c
}

// Deliveries returns the channel of incoming runner results. It closes
// once the consumer shuts down.
func (c *Consumer) Deliveries() <-chan eval.Delivery {
	return c.out
}

// Ack settles a delivery. With prefetch 1 at most one delivery is
// outstanding, so the tag always belongs to the current channel.
func (c *Consumer) Ack(tag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return fmt.Errorf("consumer channel is down")
	}
	return c.ch.Ack(tag, false)
}

// Nack returns a delivery to the queue for redelivery.
func (c *Consumer) Nack(tag uint64, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return fmt.Errorf("consumer channel is down")
	}
	return c.ch.Nack(tag, false, requeue)
}

// Close stops the receive loop and waits for it to exit.
func (c *Consumer) Close() error {
	c.cancel()
	<-c.done
	return nil
}

// receiveLoop dials, consumes, and redials on every failure until ctx
// is cancelled.
func (c *Consumer) receiveLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.out)
	defer c.teardown()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		deliveries, err := c.connect()
		if err != nil {
			c.emitter.Emit(emit.Warning("", 0, "consumer_reconnect", map[string]any{
				"attempt": attempt + 1,
				"error":   err.Error(),
			}))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay(attempt)):
			}
			attempt++
			continue
		}
		attempt = 0
		c.emitter.Emit(emit.Event{Msg: "consumer_connected", Meta: map[string]any{
			"exchange": c.exchange,
			"queue":    c.queue,
		}})

		if !c.pump(ctx, deliveries) {
			return
		}
		c.teardown()
	}
}

// pump forwards broker deliveries to the output channel. It returns
// false when ctx ended, true when the broker connection dropped and
// the loop should redial.
func (c *Consumer) pump(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			select {
			case <-ctx.Done():
				// Unsettled delivery; the broker redelivers it.
				return false
			case c.out <- eval.Delivery{Tag: d.DeliveryTag, Body: d.Body}:
			}
		}
	}
}

// connect dials the broker and sets up exchange, queue, binding, and
// QoS for one consume session.
func (c *Consumer) connect() (<-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", c.exchange, err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %q: %w", c.queue, err)
	}
	if err := ch.QueueBind(c.queue, "", c.exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue %q: %w", c.queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.mu.Unlock()
	return deliveries, nil
}

func (c *Consumer) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.ch = nil
}
