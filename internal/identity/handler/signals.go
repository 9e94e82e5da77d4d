package handler

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"qx7/internal/identity"
	jwttoken "qx7/internal/jwt_token"
	"qx7/pkg/visitorid"
)

// signalsFromRequest reads the resolution signals from request headers.
// Malformed values are ignored rather than rejected.
func (h *Handler) signalsFromRequest(r *http.Request) identity.Signals {
	hdr := r.Header
	return identity.Signals{
		ClientID:          strings.TrimSpace(hdr.Get(visitorid.HeaderClientID)),
		ETag:              etagSignal(hdr.Get(visitorid.HeaderIfNoneMatch)),
		CognitoUserID:     h.cognitoSubject(r),
		DataCleared:       flag(hdr.Get(visitorid.HeaderDataCleared)),
		IntegrityScore:    integrityScore(hdr.Get(visitorid.HeaderIntegrityScore)),
		ReturningFromAuth: flag(hdr.Get(visitorid.HeaderReturningFromAuth)),
		Incognito:         flag(hdr.Get(visitorid.HeaderIncognito)),
		LimitedStorage:    flag(hdr.Get(visitorid.HeaderLimitedStorage)),
	}
}

// cognitoSubject prefers the subject of a verified bearer token over the
// self-declared header.
func (h *Handler) cognitoSubject(r *http.Request) string {
	declared := strings.TrimSpace(r.Header.Get(visitorid.HeaderCognitoUserID))
	if h.verifier == nil {
		return declared
	}
	token, ok := jwttoken.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return declared
	}
	subject, err := h.verifier.Subject(token)
	if err != nil {
		h.logger.DebugContext(r.Context(), "ignoring unverifiable bearer token", "error", err)
		return declared
	}
	return subject
}

// etagSignal picks the first listed ETag that names an identifier. Lists
// without one are passed through for the resolver to reject.
func etagSignal(v string) string {
	if tag, ok := visitorid.FirstValidETag(v); ok {
		return tag
	}
	return v
}

func flag(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

func integrityScore(v string) *float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
