// Package identity decides which visitor identifier a request receives.
//
// Resolution is a pure function of the request signals: it either trusts the
// stored identifier, recovers one from the ETag or the authenticated subject,
// or mints a fresh one. It never returns an invalid identifier.
package identity

import (
	"fmt"
	"io"

	"qx7/pkg/visitorid"
)

const (
	// storedIntegrityThreshold promotes a stored id to a "verified" method.
	storedIntegrityThreshold = 0.7
	// etagIntegrityThreshold promotes an ETag recovery to "etag-verified".
	etagIntegrityThreshold = 0.5
)

// Resolution is the outcome of resolving a set of signals.
type Resolution struct {
	ID          string
	IsReturning bool
	Method      visitorid.Method
}

// Resolver holds no mutable state and is safe for concurrent use.
type Resolver struct {
	entropy io.Reader
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEntropy overrides the randomness source used to mint identifiers.
func WithEntropy(r io.Reader) Option {
	return func(res *Resolver) {
		if r != nil {
			res.entropy = r
		}
	}
}

// NewResolver creates a Resolver backed by crypto/rand unless overridden.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve applies the decision order; the first matching branch wins.
// Privacy-mode clients are checked first: they get a fresh identifier on every
// resolution even when they present a valid stored id or ETag.
// The only error is a failure of the entropy source while minting.
func (r *Resolver) Resolve(s Signals) (Resolution, error) {
	if s.Incognito {
		return r.fresh(visitorid.MethodIncognitoRandom)
	}
	if s.LimitedStorage {
		return r.fresh(visitorid.MethodLimitedStorageRandom)
	}
	if res, ok := resolveStored(s); ok {
		return res, nil
	}
	if res, ok := resolveETag(s); ok {
		return res, nil
	}
	if s.hasCognito() && s.ReturningFromAuth {
		return Resolution{
			ID:          visitorid.Derive(s.CognitoUserID),
			IsReturning: true,
			Method:      visitorid.MethodCognitoPostAuthRecovery,
		}, nil
	}
	return r.fresh(visitorid.MethodNew)
}

func resolveStored(s Signals) (Resolution, bool) {
	if s.DataCleared || !visitorid.IsValid(s.ClientID) {
		return Resolution{}, false
	}
	return Resolution{ID: s.ClientID, IsReturning: true, Method: storedMethod(s)}, true
}

// storedMethod: a cognito subject always wins the label; otherwise integrity
// decides between verified and plain.
func storedMethod(s Signals) visitorid.Method {
	switch {
	case s.hasCognito():
		return visitorid.MethodCognitoLocalStorageVerified
	case s.integrityAbove(storedIntegrityThreshold):
		return visitorid.MethodLocalStorageVerified
	default:
		return visitorid.MethodLocalStorage
	}
}

func resolveETag(s Signals) (Resolution, bool) {
	if s.DataCleared || s.ETag == "" {
		return Resolution{}, false
	}
	id := visitorid.Unquote(s.ETag)
	if !visitorid.IsValid(id) {
		return Resolution{}, false
	}
	method := visitorid.MethodETag
	if s.integrityAbove(etagIntegrityThreshold) {
		method = visitorid.MethodETagVerified
	}
	return Resolution{ID: id, IsReturning: true, Method: method}, true
}

func (r *Resolver) fresh(method visitorid.Method) (Resolution, error) {
	id, err := visitorid.NewRandom(r.entropy)
	if err != nil {
		return Resolution{}, fmt.Errorf("mint %s identifier: %w", method, err)
	}
	return Resolution{ID: id, IsReturning: false, Method: method}, nil
}
