// Package sqlstore is the versioned database tier. Each origin's data lives
// behind a schema version that is checked on open and never migrated in place.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"qx7/pkg/client/storage"
	"qx7/pkg/platform/sentinel"
)

// SchemaVersion is the version this code reads and writes.
const SchemaVersion = 2

const metadataKey = "current"

var (
	// ErrSchemaOutdated is returned by writes against a database opened at an
	// older schema version.
	ErrSchemaOutdated = errors.New("database schema outdated")
	// ErrSchemaTooNew is returned by Open when the stored version is newer than
	// SchemaVersion.
	ErrSchemaTooNew = errors.New("database schema newer than supported")
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Backend stores records in qx7_records and the latest write in qx7_metadata,
// both scoped by origin.
type Backend struct {
	db       *sql.DB
	dialect  Dialect
	origin   string
	outdated bool
}

// Open prepares the schema for origin. A fresh origin is stamped with
// SchemaVersion. An older stamp opens the backend in outdated mode: reads
// report nothing stored and writes fail with ErrSchemaOutdated.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, origin string) (*Backend, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if strings.TrimSpace(origin) == "" {
		return nil, fmt.Errorf("origin is required")
	}
	b := &Backend{db: db, dialect: dialect, origin: origin}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	version, err := b.storedVersion(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, b.rebind(insertVersion), origin, SchemaVersion); err != nil {
			return nil, fmt.Errorf("stamp schema version: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read schema version: %w", err)
	case version > SchemaVersion:
		return nil, fmt.Errorf("origin %s at version %d: %w", origin, version, ErrSchemaTooNew)
	case version < SchemaVersion:
		b.outdated = true
	}
	return b, nil
}

func (b *Backend) Kind() storage.Kind {
	return storage.KindDatabase
}

// Outdated reports whether the origin was found at an older schema version.
func (b *Backend) Outdated() bool {
	return b.outdated
}

// Write stores the record and replaces the current metadata in one
// transaction.
func (b *Backend) Write(ctx context.Context, rec storage.Record) error {
	if b.outdated {
		return ErrSchemaOutdated
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := toMillis(rec.Timestamp)
	ttl := rec.TTL.Milliseconds()
	if _, err := tx.ExecContext(ctx, b.rebind(upsertRecord), b.origin, rec.ID, ts, rec.Version, ttl); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, b.rebind(upsertMetadata), b.origin, metadataKey, rec.ID, ts, ttl, rec.Version); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record write: %w", err)
	}
	return nil
}

// Read returns the latest written record.
func (b *Backend) Read(ctx context.Context) (storage.Record, error) {
	if b.outdated {
		return storage.Record{}, sentinel.ErrNotFound
	}
	var (
		rec     storage.Record
		ts, ttl int64
	)
	err := b.db.QueryRowContext(ctx, b.rebind(selectMetadata), b.origin, metadataKey).
		Scan(&rec.ID, &ts, &ttl, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("read metadata: %w", err)
	}
	rec.Timestamp = fromMillis(ts)
	rec.TTL = time.Duration(ttl) * time.Millisecond
	return rec, nil
}

// Delete removes the current record and its metadata.
func (b *Backend) Delete(ctx context.Context) error {
	if b.outdated {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, b.rebind(deleteCurrentRecord), b.origin, b.origin, metadataKey); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, b.rebind(deleteMetadata), b.origin, metadataKey); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record delete: %w", err)
	}
	return nil
}

// PurgeExpiredAt removes records whose TTL elapsed before now and returns how
// many were removed.
func (b *Backend) PurgeExpiredAt(ctx context.Context, now time.Time) (int64, error) {
	if b.outdated {
		return 0, nil
	}
	res, err := b.db.ExecContext(ctx, b.rebind(purgeExpired), b.origin, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("purge expired records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired records: %w", err)
	}
	return n, nil
}

func (b *Backend) storedVersion(ctx context.Context) (int, error) {
	var version int
	err := b.db.QueryRowContext(ctx, b.rebind(selectVersion), b.origin).Scan(&version)
	return version, err
}

// rebind rewrites ? placeholders to $n for Postgres.
func (b *Backend) rebind(query string) string {
	if b.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
