package bridge

import (
	"context"
	"sync"

	"qx7/pkg/platform/sentinel"
)

// Transport carries raw messages between bridges.
type Transport interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (*Subscription, error)
}

// Subscription delivers messages until closed.
type Subscription struct {
	C     <-chan []byte
	close func()
	once  sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(s.close)
}

const hubBuffer = 32

// Hub is an in-process Transport. Every published payload is delivered to all
// subscribers, the publisher included. A subscriber that falls behind loses
// messages instead of blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

func (h *Hub) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return sentinel.ErrClosed
	}
	for ch := range h.subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, sentinel.ErrClosed
	}
	ch := make(chan []byte, hubBuffer)
	h.subs[ch] = struct{}{}
	return &Subscription{
		C: ch,
		close: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		},
	}, nil
}

// Close ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	return nil
}
