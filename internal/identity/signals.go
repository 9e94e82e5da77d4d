package identity

// Signals is the advisory input to identity resolution. Every field is
// client-controlled; the resolver treats them as hints, never as proof.
type Signals struct {
	ClientID          string
	ETag              string
	CognitoUserID     string
	DataCleared       bool
	IntegrityScore    *float64
	ReturningFromAuth bool
	Incognito         bool
	LimitedStorage    bool
}

// integrityAbove reports whether an integrity score was supplied and exceeds threshold.
func (s Signals) integrityAbove(threshold float64) bool {
	return s.IntegrityScore != nil && *s.IntegrityScore > threshold
}

func (s Signals) hasCognito() bool {
	return s.CognitoUserID != ""
}
