// Package clearing guesses whether the user cleared site data since the last
// visit by probing several independent traces.
package clearing

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"qx7/pkg/client/kv"
	"qx7/pkg/platform/sentinel"
)

// Probe names reported in Detection.Checks.
const (
	CheckNoStoredID        = "no-stored-id"
	CheckNoSessionActive   = "no-session-active"
	CheckNoSessionStart    = "no-session-start"
	CheckEmptyRequestCache = "empty-request-cache"
	CheckWorkerUnreachable = "worker-unreachable"
)

// Marker keys written after every detection.
const (
	MarkerSessionActive = "qx7_session_active"
	MarkerSessionStart  = "qx7_session_start"
)

// ClearedThreshold is the absolute number of cleared probes that flags the
// data as cleared, regardless of how many probes ran.
const ClearedThreshold = 2

// Check is the outcome of one probe.
type Check struct {
	Name    string `json:"name"`
	Cleared bool   `json:"cleared"`
}

// Detection summarises all probes.
type Detection struct {
	DataCleared bool    `json:"dataCleared"`
	Confidence  float64 `json:"confidence"`
	Checks      []Check `json:"checks"`
}

// IDReader reads the stored identifier.
type IDReader interface {
	Read(ctx context.Context) (string, bool)
}

// Sizer reports how many entries a cache holds.
type Sizer interface {
	Len() int
}

// Pinger answers a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Detector runs the clearing probes. Each probe is independent; a probe that
// cannot run counts as cleared.
type Detector struct {
	ids     IDReader
	session kv.Store
	durable kv.Store
	cache   Sizer
	worker  Pinger
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Detector)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// WithWorker enables the worker liveness probe. Without a worker the probe
// reports cleared.
func WithWorker(p Pinger) Option {
	return func(d *Detector) {
		d.worker = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithPingTimeout bounds the worker probe.
func WithPingTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// New creates a Detector. session holds the active-session marker and durable
// the session-start marker.
func New(ids IDReader, session, durable kv.Store, cache Sizer, opts ...Option) *Detector {
	d := &Detector{
		ids:     ids,
		session: session,
		durable: durable,
		cache:   cache,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
		timeout: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect runs every probe, then re-arms the session markers for next time.
func (d *Detector) Detect(ctx context.Context) Detection {
	checks := []Check{
		{Name: CheckNoStoredID, Cleared: d.noStoredID(ctx)},
		{Name: CheckNoSessionActive, Cleared: d.markerMissing(ctx, d.session, MarkerSessionActive)},
		{Name: CheckNoSessionStart, Cleared: d.markerMissing(ctx, d.durable, MarkerSessionStart)},
		{Name: CheckEmptyRequestCache, Cleared: d.cache == nil || d.cache.Len() == 0},
		{Name: CheckWorkerUnreachable, Cleared: d.workerUnreachable(ctx)},
	}

	d.rearm(ctx)

	cleared := 0
	for _, c := range checks {
		if c.Cleared {
			cleared++
		}
	}
	det := Detection{
		DataCleared: cleared >= ClearedThreshold,
		Confidence:  float64(cleared) / float64(len(checks)),
		Checks:      checks,
	}
	d.logger.DebugContext(ctx, "data clearing detection",
		"cleared_checks", cleared,
		"total_checks", len(checks),
		"data_cleared", det.DataCleared,
	)
	return det
}

func (d *Detector) noStoredID(ctx context.Context) bool {
	if d.ids == nil {
		return true
	}
	_, ok := d.ids.Read(ctx)
	return !ok
}

func (d *Detector) markerMissing(ctx context.Context, store kv.Store, key string) bool {
	if store == nil {
		return true
	}
	_, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		d.logger.DebugContext(ctx, "marker probe failed", "marker", key, "error", err)
	}
	return err != nil
}

// workerUnreachable treats a panicking worker like an unreachable one.
func (d *Detector) workerUnreachable(ctx context.Context) (unreachable bool) {
	if d.worker == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.DebugContext(ctx, "worker probe panicked", "panic", r)
			unreachable = true
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.worker.Ping(ctx) != nil
}

func (d *Detector) rearm(ctx context.Context) {
	if d.session != nil {
		if err := d.session.Set(ctx, MarkerSessionActive, "true", 0); err != nil {
			d.logger.DebugContext(ctx, "session marker write failed", "error", err)
		}
	}
	if d.durable != nil {
		start := strconv.FormatInt(d.now().UnixMilli(), 10)
		if err := d.durable.Set(ctx, MarkerSessionStart, start, 0); err != nil {
			d.logger.DebugContext(ctx, "start marker write failed", "error", err)
		}
	}
}
