package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"qx7/pkg/platform/sentinel"
)

// ErrBufferFull is returned by Emit when the event was dropped because the
// delivery buffer had no room.
var ErrBufferFull = errors.New("analytics buffer full")

// Sink delivers one event to the collector.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// Publisher delivers events asynchronously. Emit never blocks on the sink:
// events go through a bounded buffer drained by a single goroutine, and
// delivery failures are logged and dropped.
type Publisher struct {
	sink    Sink
	logger  *slog.Logger
	metrics *Metrics
	breaker *CircuitBreaker
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}
}

type Option func(*Publisher)

// WithBuffer sets the number of events that may wait for delivery.
func WithBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
		}
	}
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(p *Publisher) {
		p.breaker = cb
	}
}

// NewPublisher starts the delivery goroutine. Call Close to drain it.
func NewPublisher(sink Sink, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		sink:    sink,
		logger:  logger,
		timeout: 5 * time.Second,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Emit queues event for delivery. It returns sentinel.ErrClosed after Close
// and ErrBufferFull when the event had to be dropped.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.incDropped("closed")
		return sentinel.ErrClosed
	}
	select {
	case p.events <- event:
		return nil
	default:
		p.incDropped("buffer_full")
		p.logger.WarnContext(ctx, "analytics event dropped", "reason", "buffer_full", "event_name", event.EventName)
		return ErrBufferFull
	}
}

// Close stops accepting events, waits for queued ones to be delivered and
// closes the sink.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.done
	if err := p.sink.Close(); err != nil {
		return fmt.Errorf("close analytics sink: %w", err)
	}
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.events {
		p.deliver(event)
	}
}

func (p *Publisher) deliver(event Event) {
	if p.breaker != nil && !p.breaker.Allow() {
		p.incDropped("circuit_open")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.sink.Send(ctx, event)
	if err != nil {
		p.logger.Warn("analytics delivery failed",
			"error", err,
			"event_name", event.EventName,
			"other_info", event.EventArgs.OtherInfo,
		)
		if p.metrics != nil {
			p.metrics.IncDeliveryFailures()
		}
		if p.breaker != nil {
			open := p.breaker.RecordFailure()
			if p.metrics != nil {
				p.metrics.SetCircuitBreakerState(open)
			}
		}
		return
	}

	if p.metrics != nil {
		p.metrics.IncDelivered()
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess()
		if p.metrics != nil {
			p.metrics.SetCircuitBreakerState(false)
		}
	}
}

func (p *Publisher) incDropped(reason string) {
	if p.metrics != nil {
		p.metrics.IncDropped(reason)
	}
}
