package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"qx7/pkg/platform/sentinel"
	"qx7/pkg/visitorid"
)

// Storage health labels reported to callers.
const (
	HealthHealthy  = "healthy"
	HealthPartial  = "partial"
	HealthDegraded = "degraded"
)

// WriteOptions selects the target backends and the record lifetime.
type WriteOptions struct {
	// Priority is PriorityAll or a single backend Kind. Empty means all.
	Priority string
	// TTL defaults to DefaultTTL.
	TTL time.Duration
}

// Health describes which backends are still in use.
type Health struct {
	Active  []Kind
	Demoted []Kind
}

// Status summarises Health as healthy, partial or degraded.
func (h Health) Status() string {
	switch {
	case len(h.Active) == 0:
		return HealthDegraded
	case len(h.Demoted) > 0:
		return HealthPartial
	default:
		return HealthHealthy
	}
}

// Orchestrator fans writes out to every active backend and reads them back in
// priority order. A demotable backend that fails is removed from the active
// set for the lifetime of the orchestrator.
type Orchestrator struct {
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
	demotable map[Kind]bool

	mu      sync.RWMutex
	active  []Backend
	demoted []Kind
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock overrides the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDemotable replaces the set of backend kinds that are demoted on error.
// By default only the versioned database is.
func WithDemotable(kinds ...Kind) Option {
	return func(o *Orchestrator) {
		o.demotable = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			o.demotable[k] = true
		}
	}
}

// New orders backends by ReadOrder; kinds outside it keep their relative
// order after the known tiers. Nil backends are skipped.
func New(backends []Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
		demotable: map[Kind]bool{KindDatabase: true},
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, b := range backends {
		if b != nil {
			o.active = append(o.active, b)
		}
	}
	slices.SortStableFunc(o.active, func(a, b Backend) int {
		return rank(a.Kind()) - rank(b.Kind())
	})
	return o
}

// Write stores id in the backends selected by opts.Priority. It reports true
// when at least one backend accepted the record. Invalid ids are rejected
// without touching any backend.
func (o *Orchestrator) Write(ctx context.Context, id string, opts WriteOptions) bool {
	if !visitorid.IsValid(id) {
		return false
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rec := Record{
		ID:        id,
		Timestamp: o.now(),
		TTL:       ttl,
		Version:   RecordVersion,
	}

	targets := o.targets(opts.Priority)
	if len(targets) == 0 {
		return false
	}

	// Each write is independent; the group only joins them.
	var g errgroup.Group
	ok := make([]bool, len(targets))
	for i, b := range targets {
		g.Go(func() error {
			if err := b.Write(ctx, rec); err != nil {
				o.failed(ctx, b, "write", err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	return slices.Contains(ok, true)
}

// Read returns the first valid unexpired id in priority order. Expired
// records are purged on the way.
func (o *Orchestrator) Read(ctx context.Context) (string, bool) {
	for _, b := range o.snapshot() {
		rec, err := b.Read(ctx)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			continue
		case errors.Is(err, sentinel.ErrExpired):
			o.purge(ctx, b)
			continue
		case err != nil:
			if o.metrics != nil {
				o.metrics.IncReadError(b.Kind())
			}
			o.failed(ctx, b, "read", err)
			continue
		}
		if rec.Expired(o.now()) {
			o.purge(ctx, b)
			continue
		}
		if !visitorid.IsValid(rec.ID) {
			continue
		}
		if o.metrics != nil {
			o.metrics.IncReadHit(b.Kind())
		}
		return rec.ID, true
	}
	return "", false
}

// Integrity is the fraction of active backends holding an unexpired record
// for id. It is zero when no backend is active.
func (o *Orchestrator) Integrity(ctx context.Context, id string) float64 {
	backends := o.snapshot()
	if len(backends) == 0 || !visitorid.IsValid(id) {
		return 0
	}
	now := o.now()
	agree := 0
	for _, b := range backends {
		rec, err := b.Read(ctx)
		if err != nil || rec.Expired(now) {
			continue
		}
		if rec.ID == id {
			agree++
		}
	}
	return float64(agree) / float64(len(backends))
}

// Clear deletes the record from every active backend.
func (o *Orchestrator) Clear(ctx context.Context) error {
	var errs []error
	for _, b := range o.snapshot() {
		if err := b.Delete(ctx); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			errs = append(errs, fmt.Errorf("clear %s: %w", b.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

// Health reports active and demoted backend kinds.
func (o *Orchestrator) Health() Health {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h := Health{
		Active:  make([]Kind, 0, len(o.active)),
		Demoted: slices.Clone(o.demoted),
	}
	for _, b := range o.active {
		h.Active = append(h.Active, b.Kind())
	}
	return h
}

// Demote removes the backend of kind k from the active set. It reports false
// when no such backend is active.
func (o *Orchestrator) Demote(k Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := slices.IndexFunc(o.active, func(b Backend) bool { return b.Kind() == k })
	if idx < 0 {
		return false
	}
	o.active = slices.Delete(o.active, idx, idx+1)
	o.demoted = append(o.demoted, k)
	if o.metrics != nil {
		o.metrics.IncDemotion(k)
	}
	return true
}

func (o *Orchestrator) targets(priority string) []Backend {
	backends := o.snapshot()
	if priority == "" || priority == PriorityAll {
		return backends
	}
	for _, b := range backends {
		if string(b.Kind()) == priority {
			return []Backend{b}
		}
	}
	return nil
}

func (o *Orchestrator) snapshot() []Backend {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.active)
}

func (o *Orchestrator) failed(ctx context.Context, b Backend, op string, err error) {
	if op == "write" && o.metrics != nil {
		o.metrics.IncWriteFailure(b.Kind())
	}
	o.logger.WarnContext(ctx, "storage backend failed",
		"backend", b.Kind(),
		"op", op,
		"error", err,
	)
	if o.demotable[b.Kind()] && o.Demote(b.Kind()) {
		o.logger.WarnContext(ctx, "storage backend demoted", "backend", b.Kind())
	}
}

func (o *Orchestrator) purge(ctx context.Context, b Backend) {
	if o.metrics != nil {
		o.metrics.IncExpiredPurge(b.Kind())
	}
	if err := b.Delete(ctx); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		o.logger.DebugContext(ctx, "expired record purge failed", "backend", b.Kind(), "error", err)
	}
}
