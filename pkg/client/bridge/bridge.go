package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"qx7/pkg/client/clearing"
	"qx7/pkg/client/storage"
	"qx7/pkg/platform/origin"
	"qx7/pkg/platform/sentinel"
	"qx7/pkg/visitorid"
)

// Store is the identifier storage a bridge reads and syncs into.
type Store interface {
	Read(ctx context.Context) (string, bool)
	Write(ctx context.Context, id string, opts storage.WriteOptions) bool
}

// Detector answers check-data-cleared requests.
type Detector interface {
	Detect(ctx context.Context) clearing.Detection
}

// Bridge answers identifier requests from peers and applies their syncs.
// Messages are accepted only from the bridge's own origin and the configured
// allow-list; a bridge ignores its own echoes.
type Bridge struct {
	transport Transport
	store     Store
	detector  Detector
	origin    string
	sender    string
	allowed   []string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	current string
}

type Option func(*Bridge)

// WithAllowedOrigins lists the peer origins to accept. AnyOrigin accepts all.
func WithAllowedOrigins(origins ...string) Option {
	return func(b *Bridge) {
		b.allowed = origin.NormalizeAll(append(b.allowed, origins...))
	}
}

func WithDetector(d Detector) Option {
	return func(b *Bridge) {
		b.detector = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a bridge for the self origin with a fresh sender id.
func New(transport Transport, store Store, self string, opts ...Option) *Bridge {
	b := &Bridge{
		transport: transport,
		store:     store,
		origin:    origin.Normalize(self),
		sender:    uuid.NewString(),
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Sender returns the id this bridge stamps on outgoing messages.
func (b *Bridge) Sender() string {
	return b.sender
}

// Current returns the last identifier this bridge learned, if any.
func (b *Bridge) Current() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Run subscribes to the transport and handles messages until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.transport.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("bridge subscribe: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-sub.C:
			if !ok {
				return sentinel.ErrClosed
			}
			b.Handle(ctx, raw)
		}
	}
}

// Handle processes one raw message. It never returns an error or panics;
// rejected messages are logged and dropped.
func (b *Bridge) Handle(ctx context.Context, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "bridge handler panic", "panic", r)
		}
	}()

	msg, err := Decode(raw)
	if err != nil {
		b.logger.DebugContext(ctx, "bridge message rejected", "error", err)
		return
	}
	if msg.Sender == b.sender {
		return
	}
	if !b.originAllowed(msg.Origin) {
		b.logger.DebugContext(ctx, "bridge message from disallowed origin", "origin", msg.Origin)
		return
	}

	switch msg.Type {
	case TypeRequestID:
		b.replyID(ctx)
	case TypeID:
		b.logger.DebugContext(ctx, "peer announced id", "origin", msg.Origin, "source", msg.Source)
	case TypeSync, TypeSyncLegacy:
		b.applySync(ctx, msg)
	case TypeCheckCleared:
		b.replyCleared(ctx)
	default:
	}
}

// Broadcast announces id to every peer as a sync.
func (b *Bridge) Broadcast(ctx context.Context, id string) error {
	if !visitorid.IsValid(id) {
		return ErrInvalidID
	}
	b.setCurrent(id)
	return b.publish(ctx, Message{Type: TypeSync, Qx7ID: id})
}

// RequestID asks peers to announce their identifier.
func (b *Bridge) RequestID(ctx context.Context) error {
	return b.publish(ctx, Message{Type: TypeRequestID})
}

// CheckCleared asks peers to report their clearing heuristic.
func (b *Bridge) CheckCleared(ctx context.Context) error {
	return b.publish(ctx, Message{Type: TypeCheckCleared})
}

func (b *Bridge) replyID(ctx context.Context) {
	id := b.Current()
	if id == "" && b.store != nil {
		id, _ = b.store.Read(ctx)
	}
	if !visitorid.IsValid(id) {
		return
	}
	if err := b.publish(ctx, Message{Type: TypeID, Qx7ID: id, Source: b.origin}); err != nil {
		b.logger.WarnContext(ctx, "bridge reply failed", "error", err)
	}
}

func (b *Bridge) applySync(ctx context.Context, msg Message) {
	b.setCurrent(msg.Qx7ID)
	if b.store == nil {
		return
	}
	if !b.store.Write(ctx, msg.Qx7ID, storage.WriteOptions{Priority: storage.PriorityAll}) {
		b.logger.WarnContext(ctx, "synced id not persisted", "origin", msg.Origin)
	}
}

func (b *Bridge) replyCleared(ctx context.Context) {
	if b.detector == nil {
		return
	}
	det := b.detector.Detect(ctx)
	if err := b.publish(ctx, Message{Type: TypeClearedStatus, Detection: &det}); err != nil {
		b.logger.WarnContext(ctx, "bridge reply failed", "error", err)
	}
}

func (b *Bridge) publish(ctx context.Context, msg Message) error {
	msg.Sender = b.sender
	msg.Origin = b.origin
	msg.Timestamp = b.now().UnixMilli()
	payload, err := msg.encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := b.transport.Publish(ctx, payload); err != nil {
		if errors.Is(err, sentinel.ErrClosed) {
			return err
		}
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

func (b *Bridge) originAllowed(from string) bool {
	from = origin.Normalize(from)
	if from == "" {
		return false
	}
	return from == b.origin || slices.Contains(b.allowed, AnyOrigin) || slices.Contains(b.allowed, from)
}

func (b *Bridge) setCurrent(id string) {
	b.mu.Lock()
	b.current = id
	b.mu.Unlock()
}
