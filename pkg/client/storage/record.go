// Package storage persists the visitor identifier redundantly across several
// independently failing backends.
package storage

import "time"

const (
	// RecordVersion is the format version stamped on every record.
	RecordVersion = "2"
	// DefaultTTL applies when a write does not name one.
	DefaultTTL = 365 * 24 * time.Hour
)

// Record is what each backend stores. Backends may drop fields they cannot
// represent; a zero TTL means the backend enforces expiry itself.
type Record struct {
	ID        string
	Timestamp time.Time
	TTL       time.Duration
	Version   string
}

// ExpiresAt is the absolute expiry instant, zero when the record carries no TTL.
func (r Record) ExpiresAt() time.Time {
	if r.TTL <= 0 {
		return time.Time{}
	}
	return r.Timestamp.Add(r.TTL)
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	exp := r.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}
