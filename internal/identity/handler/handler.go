// Package handler exposes identity resolution over HTTP.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"qx7/internal/analytics"
	"qx7/internal/identity"
	"qx7/internal/identity/metrics"
	"qx7/internal/platform/middleware"
	"qx7/pkg/platform/httputil"
	"qx7/pkg/platform/middleware/metadata"
	"qx7/pkg/platform/middleware/requesttime"
	"qx7/pkg/requestcontext"
	"qx7/pkg/visitorid"
)

const (
	endpointStep1 = "onboarding-step1"
	endpointStep2 = "onboarding-step2"

	step1CacheControl = "private, max-age=3600"
	step2CacheControl = "public, max-age=31536000, immutable"
)

// Resolver picks the identifier for a set of request signals.
type Resolver interface {
	Resolve(s identity.Signals) (identity.Resolution, error)
}

// Publisher accepts analytics events for asynchronous delivery.
type Publisher interface {
	Emit(ctx context.Context, event analytics.Event) error
}

// SubjectVerifier validates a bearer token and returns its subject.
type SubjectVerifier interface {
	Subject(token string) (string, error)
}

// Handler serves the two onboarding endpoints. Both always answer with a
// usable identifier, even when resolution fails.
type Handler struct {
	logger    *slog.Logger
	resolver  Resolver
	metrics   *metrics.Metrics
	publisher Publisher
	verifier  SubjectVerifier
	utmCDN    string
	tracer    trace.Tracer
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithPublisher enables filter-tag analytics for requests carrying rockmanId.
func WithPublisher(p Publisher, utmCDN string) Option {
	return func(h *Handler) {
		h.publisher = p
		h.utmCDN = utmCDN
	}
}

// WithSubjectVerifier lets a verified bearer token supply the cognito user id.
func WithSubjectVerifier(v SubjectVerifier) Option {
	return func(h *Handler) {
		h.verifier = v
	}
}

// New creates a new identity Handler.
func New(resolver Resolver, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:   logger,
		resolver: resolver,
		tracer:   otel.Tracer("qx7/identity"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the identity routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	identityRouter := chi.NewRouter()
	identityRouter.Use(middleware.Recovery(h.logger))
	identityRouter.Use(middleware.RequestID)
	identityRouter.Use(metadata.ClientMetadata)
	identityRouter.Use(requesttime.Middleware)
	identityRouter.Use(middleware.Logger(h.logger))

	var observer middleware.LatencyObserver
	if h.metrics != nil {
		observer = h.metrics
	}
	identityRouter.With(middleware.Latency(observer, endpointStep1)).Get(visitorid.PathStep1, h.handleStep1)
	identityRouter.With(middleware.Latency(observer, endpointStep2)).Get(visitorid.PathStep2, h.handleStep2)

	r.Mount("/", identityRouter)
}

// handleStep1 answers with the resolved identity as JSON, or 304 when the
// client's cached ETag already names it.
func (h *Handler) handleStep1(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "identity.onboarding_step1")
	defer span.End()
	defer h.recoverWith(ctx, w, endpointStep1, h.writeStep1Fallback)

	res, err := h.resolve(ctx, r, span, endpointStep1)
	if err != nil {
		h.logger.ErrorContext(ctx, "identity resolution failed",
			"request_id", requestcontext.RequestID(ctx),
			"endpoint", endpointStep1,
			"error", err,
		)
		h.writeStep1Fallback(ctx, w)
		return
	}

	h.setIdentityHeaders(w, res.ID, res.Method)
	h.track(ctx, r, endpointStep1, res.Method)

	if visitorid.MatchETag(r.Header.Get(visitorid.HeaderIfNoneMatch), res.ID) {
		if h.metrics != nil {
			h.metrics.IncNotModified()
		}
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Cache-Control", step1CacheControl)
	httputil.WriteJSON(w, http.StatusOK, visitorid.IdentityResponse{
		Qx7ID:             res.ID,
		PersistenceMethod: res.Method,
		IsReturning:       res.IsReturning,
	})
}

// handleStep2 answers with a long-lived cacheable pixel whose ETag carries the
// identity, so the browser cache itself becomes a storage tier.
func (h *Handler) handleStep2(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "identity.onboarding_step2")
	defer span.End()
	defer h.recoverWith(ctx, w, endpointStep2, h.writeStep2Fallback)

	res, err := h.resolve(ctx, r, span, endpointStep2)
	if err != nil {
		h.logger.ErrorContext(ctx, "identity resolution failed",
			"request_id", requestcontext.RequestID(ctx),
			"endpoint", endpointStep2,
			"error", err,
		)
		h.writeStep2Fallback(ctx, w)
		return
	}

	h.setIdentityHeaders(w, res.ID, res.Method)
	h.track(ctx, r, endpointStep2, res.Method)
	writePixel(w, http.StatusOK)
}

func (h *Handler) resolve(ctx context.Context, r *http.Request, span trace.Span, endpoint string) (identity.Resolution, error) {
	res, err := h.resolver.Resolve(h.signalsFromRequest(r))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		return identity.Resolution{}, err
	}
	span.SetAttributes(
		attribute.String("qx7.persistence_method", res.Method.String()),
		attribute.Bool("qx7.returning", res.IsReturning),
	)
	if h.metrics != nil {
		h.metrics.IncResolution(endpoint, res.Method.String())
	}
	h.logger.DebugContext(ctx, "identity resolved",
		"request_id", requestcontext.RequestID(ctx),
		"method", res.Method,
		"returning", res.IsReturning,
	)
	return res, nil
}

func (h *Handler) writeStep1Fallback(ctx context.Context, w http.ResponseWriter) {
	id := h.fallbackID(ctx)
	h.countFallback(endpointStep1)
	h.setIdentityHeaders(w, id, visitorid.MethodErrorFallback)
	httputil.WriteJSON(w, http.StatusInternalServerError, visitorid.FallbackResponse{
		Error: "internal_error",
		Qx7ID: id,
	})
}

func (h *Handler) writeStep2Fallback(ctx context.Context, w http.ResponseWriter) {
	id := h.fallbackID(ctx)
	h.countFallback(endpointStep2)
	w.Header().Set(visitorid.HeaderResolvedID, id)
	w.Header().Set(visitorid.HeaderPersistenceMethod, visitorid.MethodErrorFallback.String())
	writePixel(w, http.StatusInternalServerError)
}

// recoverWith converts a panic inside a handler into its fallback response.
func (h *Handler) recoverWith(ctx context.Context, w http.ResponseWriter, endpoint string, fallback func(context.Context, http.ResponseWriter)) {
	rec := recover()
	if rec == nil {
		return
	}
	h.logger.ErrorContext(ctx, "panic in identity handler",
		"request_id", requestcontext.RequestID(ctx),
		"endpoint", endpoint,
		"panic", fmt.Sprint(rec),
		"stack", string(debug.Stack()),
	)
	fallback(ctx, w)
}

// fallbackID mints an identifier without the resolver's entropy source. If the
// system source fails too, the id is derived from request-unique data.
func (h *Handler) fallbackID(ctx context.Context) string {
	id, err := visitorid.NewRandom(nil)
	if err == nil {
		return id
	}
	h.logger.ErrorContext(ctx, "system entropy unavailable for fallback id", "error", err)
	seed := fmt.Sprintf("%s|%d", requestcontext.RequestID(ctx), time.Now().UnixNano())
	return visitorid.Derive(seed)
}

func (h *Handler) countFallback(endpoint string) {
	if h.metrics != nil {
		h.metrics.IncFallback(endpoint)
	}
}

func (h *Handler) setIdentityHeaders(w http.ResponseWriter, id string, method visitorid.Method) {
	w.Header().Set("ETag", visitorid.Quote(id))
	w.Header().Set(visitorid.HeaderResolvedID, id)
	w.Header().Set(visitorid.HeaderPersistenceMethod, method.String())
}

// track emits a filter-tag event when the request carries a campaign id.
// Delivery problems never affect the response.
func (h *Handler) track(ctx context.Context, r *http.Request, endpoint string, method visitorid.Method) {
	if h.publisher == nil {
		return
	}
	rockmanID := r.URL.Query().Get(visitorid.QueryRockmanID)
	if rockmanID == "" {
		return
	}
	event := analytics.NewFilterTag(h.utmCDN, rockmanID, endpoint, method.String())
	if err := h.publisher.Emit(ctx, event); err != nil {
		h.logger.WarnContext(ctx, "analytics event not queued",
			"request_id", requestcontext.RequestID(ctx),
			"endpoint", endpoint,
			"error", err,
		)
	}
}

func writePixel(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(transparentGIF)))
	if status == http.StatusOK {
		w.Header().Set("Cache-Control", step2CacheControl)
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	_, _ = w.Write(transparentGIF)
}
