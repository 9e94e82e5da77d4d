// Package cookie is the cookie tier. The record is projected to a compact
// "id|timestamp|version" value in a jar the client also hands to its HTTP
// client, so the cookie travels to the identity service while the jar lives.
package cookie

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"qx7/pkg/client/storage"
	"qx7/pkg/platform/sentinel"
)

// DefaultName is the cookie name used when none is configured.
const DefaultName = "qx7_id"

// NewJar returns a cookie jar that applies public suffix domain rules.
func NewJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

// Backend stores the record as a cookie for one origin.
type Backend struct {
	jar  http.CookieJar
	site *url.URL
	name string
}

// New scopes the cookie to origin, e.g. "https://shop.example".
func New(jar http.CookieJar, origin, name string) (*Backend, error) {
	if jar == nil {
		return nil, fmt.Errorf("cookie jar is required")
	}
	site, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if site.Scheme == "" || site.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", origin)
	}
	if name == "" {
		name = DefaultName
	}
	return &Backend{jar: jar, site: &url.URL{Scheme: site.Scheme, Host: site.Host, Path: "/"}, name: name}, nil
}

func (b *Backend) Kind() storage.Kind {
	return storage.KindCookie
}

func (b *Backend) Write(_ context.Context, rec storage.Record) error {
	b.jar.SetCookies(b.site, []*http.Cookie{{
		Name:     b.name,
		Value:    Encode(rec),
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Expires:  rec.ExpiresAt(),
	}})
	if _, ok := b.lookup(); !ok {
		return fmt.Errorf("cookie %s rejected by jar", b.name)
	}
	return nil
}

// Read returns the cookie's projection of the record. The jar enforces
// expiry, so the record carries no TTL.
func (b *Backend) Read(context.Context) (storage.Record, error) {
	value, ok := b.lookup()
	if !ok {
		return storage.Record{}, sentinel.ErrNotFound
	}
	rec, err := Decode(value)
	if err != nil {
		return storage.Record{}, err
	}
	return rec, nil
}

func (b *Backend) Delete(context.Context) error {
	b.jar.SetCookies(b.site, []*http.Cookie{{
		Name:   b.name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
	return nil
}

func (b *Backend) lookup() (string, bool) {
	for _, c := range b.jar.Cookies(b.site) {
		if c.Name == b.name {
			return c.Value, true
		}
	}
	return "", false
}

// Encode renders the url-encoded "id|timestamp|version" projection.
func Encode(rec storage.Record) string {
	raw := rec.ID + "|" + strconv.FormatInt(rec.Timestamp.UnixMilli(), 10) + "|" + rec.Version
	return url.QueryEscape(raw)
}

// Decode parses a value produced by Encode.
func Decode(value string) (storage.Record, error) {
	raw, err := url.QueryUnescape(value)
	if err != nil {
		return storage.Record{}, fmt.Errorf("unescape cookie: %w", err)
	}
	parts := strings.Split(raw, "|")
	if len(parts) != 3 {
		return storage.Record{}, fmt.Errorf("cookie has %d fields, want 3", len(parts))
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return storage.Record{}, fmt.Errorf("cookie timestamp: %w", err)
	}
	return storage.Record{
		ID:        parts[0],
		Timestamp: time.UnixMilli(ms).UTC(),
		Version:   parts[2],
	}, nil
}
