// Package visitorid holds the format rules for visitor identifiers shared by
// the resolution service and the client library.
//
// An identifier is an opaque, case-insensitive hexadecimal string of at least
// 16 characters. Freshly minted identifiers are always 32 characters long.
package visitorid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// MintedLength is the length of identifiers produced by NewRandom and Derive.
const MintedLength = 32

var pattern = regexp.MustCompile(`(?i)^[a-f0-9]{16,}$`)

// IsValid reports whether candidate is a well-formed identifier.
// It must gate every client-supplied or stored value before it is trusted.
func IsValid(candidate string) bool {
	return pattern.MatchString(candidate)
}

// NewRandom mints 16 random bytes from entropy and hex-encodes them.
// A nil reader uses crypto/rand.
func NewRandom(entropy io.Reader) (string, error) {
	if entropy == nil {
		entropy = rand.Reader
	}
	buf := make([]byte, MintedLength/2)
	if _, err := io.ReadFull(entropy, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Derive returns the deterministic identifier for an authenticated subject:
// the SHA-256 digest of the subject, hex-encoded and truncated.
func Derive(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])[:MintedLength]
}

// Quote renders id as a strong ETag value.
func Quote(id string) string {
	return `"` + id + `"`
}

// Unquote strips a weak-validator prefix and surrounding quotes from an ETag.
func Unquote(etag string) string {
	v := strings.TrimSpace(etag)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

// SplitETags returns the entity tags of an If-None-Match list, unquoted and
// in order. Empty entries are dropped.
func SplitETags(header string) []string {
	var tags []string
	for _, part := range strings.Split(header, ",") {
		if tag := Unquote(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// FirstValidETag returns the first listed entity tag that is a valid
// identifier.
func FirstValidETag(header string) (string, bool) {
	for _, tag := range SplitETags(header) {
		if IsValid(tag) {
			return tag, true
		}
	}
	return "", false
}

// MatchETag reports whether the If-None-Match header lists id.
func MatchETag(header, id string) bool {
	if !IsValid(id) {
		return false
	}
	for _, tag := range SplitETags(header) {
		if tag == id {
			return true
		}
	}
	return false
}
