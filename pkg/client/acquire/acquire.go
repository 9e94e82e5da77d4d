// Package acquire drives one identity acquisition: it gathers local signals,
// asks the service to resolve them, and persists and propagates the answer.
package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"qx7/pkg/client/clearing"
	"qx7/pkg/client/reqcache"
	"qx7/pkg/client/storage"
	"qx7/pkg/platform/sentinel"
	"qx7/pkg/visitorid"
)

// MaxAttempts bounds the number of requests per acquisition.
const MaxAttempts = 3

// DefaultRetryBase is the delay before the first retry; each retry doubles it.
const DefaultRetryBase = 2 * time.Second

var ErrInvalidResponse = errors.New("invalid identity response")

// Store is the redundant storage the acquirer reads and persists through.
type Store interface {
	Read(ctx context.Context) (string, bool)
	Write(ctx context.Context, id string, opts storage.WriteOptions) bool
	Integrity(ctx context.Context, id string) float64
	Health() storage.Health
}

type Detector interface {
	Detect(ctx context.Context) clearing.Detection
}

type Broadcaster interface {
	Broadcast(ctx context.Context, id string) error
}

// Hints are caller-known facts the acquirer cannot probe itself.
type Hints struct {
	Incognito         bool
	LimitedStorage    bool
	CognitoUserID     string
	ReturningFromAuth bool
	RockmanID         string
	// BearerToken, when set, is sent as an Authorization header so the
	// service can verify the cognito subject.
	BearerToken string
}

// Result is the outcome of Acquire. Data is nil when the service could not be
// reached; the client never mints an identifier itself.
type Result struct {
	DataCleared   bool                        `json:"dataCleared"`
	Data          *visitorid.IdentityResponse `json:"data"`
	Confidence    float64                     `json:"confidence"`
	StorageHealth string                      `json:"storageHealth"`
}

// Degraded is the result returned once every attempt has failed.
func Degraded() Result {
	return Result{DataCleared: true, Confidence: 0, StorageHealth: storage.HealthDegraded}
}

type Acquirer struct {
	endpoint  string
	store     Store
	detector  Detector
	cache     *reqcache.Cache
	bridge    Broadcaster
	client    *http.Client
	logger    *slog.Logger
	retryBase time.Duration
	ttl       time.Duration
	hints     Hints
}

type Option func(*Acquirer)

func WithDetector(d Detector) Option {
	return func(a *Acquirer) {
		a.detector = d
	}
}

func WithCache(c *reqcache.Cache) Option {
	return func(a *Acquirer) {
		if c != nil {
			a.cache = c
		}
	}
}

func WithBroadcaster(b Broadcaster) Option {
	return func(a *Acquirer) {
		a.bridge = b
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(a *Acquirer) {
		if c != nil {
			a.client = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Acquirer) {
		a.logger = logger
	}
}

// WithRetryBase sets the delay before the first retry.
func WithRetryBase(d time.Duration) Option {
	return func(a *Acquirer) {
		if d > 0 {
			a.retryBase = d
		}
	}
}

// WithRecordTTL sets the lifetime of persisted records.
func WithRecordTTL(d time.Duration) Option {
	return func(a *Acquirer) {
		a.ttl = d
	}
}

func WithHints(h Hints) Option {
	return func(a *Acquirer) {
		a.hints = h
	}
}

// New creates an Acquirer that resolves against serverURL joined with
// basePath.
func New(serverURL, basePath string, store Store, opts ...Option) (*Acquirer, error) {
	endpoint, err := url.JoinPath(serverURL, basePath, visitorid.PathStep1)
	if err != nil {
		return nil, fmt.Errorf("build endpoint: %w", err)
	}
	a := &Acquirer{
		endpoint:  endpoint,
		store:     store,
		cache:     reqcache.New(),
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    slog.New(slog.DiscardHandler),
		retryBase: DefaultRetryBase,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type signals struct {
	storedID  string
	etag      string
	detection clearing.Detection
	integrity *float64
}

// Acquire runs one acquisition. It never returns an error: failures are
// reported through a degraded Result.
func (a *Acquirer) Acquire(ctx context.Context) Result {
	sig := a.gather(ctx)

	resp, etag, err := a.fetch(ctx, sig)
	if err != nil {
		a.logger.WarnContext(ctx, "identity acquisition failed", "attempts", MaxAttempts, "error", err)
		return Degraded()
	}

	if a.hints.Incognito {
		a.logger.DebugContext(ctx, "incognito mode, identity not persisted")
	} else if !a.store.Write(ctx, resp.Qx7ID, storage.WriteOptions{Priority: storage.PriorityAll, TTL: a.ttl}) {
		a.logger.WarnContext(ctx, "identity not persisted to any backend")
	}
	if err := a.cache.Put(ctx, reqcache.KeyETag, etag); err != nil {
		a.logger.WarnContext(ctx, "etag not cached", "error", err)
	}
	if a.bridge != nil {
		if err := a.bridge.Broadcast(ctx, resp.Qx7ID); err != nil {
			a.logger.WarnContext(ctx, "identity sync broadcast failed", "error", err)
		}
	}

	return Result{
		DataCleared:   sig.detection.DataCleared,
		Data:          &resp,
		Confidence:    sig.detection.Confidence,
		StorageHealth: a.store.Health().Status(),
	}
}

func (a *Acquirer) gather(ctx context.Context) signals {
	var sig signals
	if a.detector != nil {
		sig.detection = a.detector.Detect(ctx)
	}
	if id, ok := a.store.Read(ctx); ok {
		sig.storedID = id
		score := a.store.Integrity(ctx, id)
		sig.integrity = &score
	}
	sig.etag, _ = a.cache.Get(reqcache.KeyETag)
	return sig
}

// fetch calls the service with bounded exponential backoff. Client errors
// other than 304 are not retried.
func (a *Acquirer) fetch(ctx context.Context, sig signals) (visitorid.IdentityResponse, string, error) {
	type outcome struct {
		resp visitorid.IdentityResponse
		etag string
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.retryBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	attempt := 0
	out, err := backoff.Retry(ctx, func() (outcome, error) {
		attempt++
		resp, etag, err := a.request(ctx, sig)
		if err != nil {
			a.logger.DebugContext(ctx, "identity request failed", "attempt", attempt, "error", err)
			return outcome{}, err
		}
		return outcome{resp: resp, etag: etag}, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(MaxAttempts),
	)
	if err != nil {
		return visitorid.IdentityResponse{}, "", err
	}
	return out.resp, out.etag, nil
}

func (a *Acquirer) request(ctx context.Context, sig signals) (visitorid.IdentityResponse, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint, nil)
	if err != nil {
		return visitorid.IdentityResponse{}, "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	a.setHeaders(req, sig)

	res, err := a.client.Do(req)
	if err != nil {
		return visitorid.IdentityResponse{}, "", fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotModified:
		return a.notModified(res, sig)
	case res.StatusCode == http.StatusOK:
		var body visitorid.IdentityResponse
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			return visitorid.IdentityResponse{}, "", fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
		if !visitorid.IsValid(body.Qx7ID) {
			return visitorid.IdentityResponse{}, "", backoff.Permanent(ErrInvalidResponse)
		}
		etag := res.Header.Get("ETag")
		if etag == "" {
			etag = visitorid.Quote(body.Qx7ID)
		}
		return body, etag, nil
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
		err := fmt.Errorf("%w: status %d", sentinel.ErrUnavailable, res.StatusCode)
		if res.StatusCode < http.StatusInternalServerError {
			return visitorid.IdentityResponse{}, "", backoff.Permanent(err)
		}
		return visitorid.IdentityResponse{}, "", err
	}
}

// notModified rebuilds the identity from response headers, falling back to the
// ETag that was sent.
func (a *Acquirer) notModified(res *http.Response, sig signals) (visitorid.IdentityResponse, string, error) {
	id := strings.TrimSpace(res.Header.Get(visitorid.HeaderResolvedID))
	if id == "" {
		id = visitorid.Unquote(sig.etag)
	}
	if !visitorid.IsValid(id) {
		return visitorid.IdentityResponse{}, "", backoff.Permanent(ErrInvalidResponse)
	}
	method := visitorid.Method(res.Header.Get(visitorid.HeaderPersistenceMethod))
	if method == "" {
		method = visitorid.MethodETag
	}
	return visitorid.IdentityResponse{
		Qx7ID:             id,
		PersistenceMethod: method,
		IsReturning:       method.Returning(),
	}, visitorid.Quote(id), nil
}

func (a *Acquirer) setHeaders(req *http.Request, sig signals) {
	h := req.Header
	h.Set("Accept", "application/json")
	if sig.storedID != "" {
		h.Set(visitorid.HeaderClientID, sig.storedID)
	}
	if sig.etag != "" {
		h.Set(visitorid.HeaderIfNoneMatch, sig.etag)
	}
	if sig.integrity != nil {
		h.Set(visitorid.HeaderIntegrityScore, strconv.FormatFloat(*sig.integrity, 'f', -1, 64))
	}
	h.Set(visitorid.HeaderDataCleared, strconv.FormatBool(sig.detection.DataCleared))
	h.Set(visitorid.HeaderIncognito, strconv.FormatBool(a.hints.Incognito))
	h.Set(visitorid.HeaderLimitedStorage, strconv.FormatBool(a.hints.LimitedStorage))
	if a.hints.CognitoUserID != "" {
		h.Set(visitorid.HeaderCognitoUserID, a.hints.CognitoUserID)
	}
	if a.hints.ReturningFromAuth {
		h.Set(visitorid.HeaderReturningFromAuth, "true")
	}
	if a.hints.BearerToken != "" {
		h.Set("Authorization", "Bearer "+a.hints.BearerToken)
	}
	if a.hints.RockmanID != "" {
		q := req.URL.Query()
		q.Set(visitorid.QueryRockmanID, a.hints.RockmanID)
		req.URL.RawQuery = q.Encode()
	}
}
