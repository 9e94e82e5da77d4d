package sqlstore

var schema = []string{
	`CREATE TABLE IF NOT EXISTS qx7_schema (
	   origin  TEXT PRIMARY KEY,
	   version INTEGER NOT NULL
	 )`,
	`CREATE TABLE IF NOT EXISTS qx7_records (
	   origin       TEXT NOT NULL,
	   id           TEXT NOT NULL,
	   timestamp_ms BIGINT NOT NULL,
	   version      TEXT NOT NULL,
	   ttl_ms       BIGINT NOT NULL,
	   PRIMARY KEY (origin, id)
	 )`,
	`CREATE INDEX IF NOT EXISTS qx7_records_timestamp_idx ON qx7_records (origin, timestamp_ms)`,
	`CREATE INDEX IF NOT EXISTS qx7_records_version_idx ON qx7_records (origin, version)`,
	`CREATE TABLE IF NOT EXISTS qx7_metadata (
	   origin       TEXT NOT NULL,
	   meta_key     TEXT NOT NULL,
	   id           TEXT NOT NULL,
	   timestamp_ms BIGINT NOT NULL,
	   ttl_ms       BIGINT NOT NULL,
	   version      TEXT NOT NULL,
	   PRIMARY KEY (origin, meta_key)
	 )`,
	`CREATE TABLE IF NOT EXISTS qx7_kv (
	   origin     TEXT NOT NULL,
	   namespace  TEXT NOT NULL,
	   kv_key     TEXT NOT NULL,
	   kv_value   TEXT NOT NULL,
	   expires_ms BIGINT NOT NULL,
	   PRIMARY KEY (origin, namespace, kv_key)
	 )`,
}

const (
	selectVersion = `SELECT version FROM qx7_schema WHERE origin = ?`
	insertVersion = `INSERT INTO qx7_schema (origin, version) VALUES (?, ?)`

	upsertRecord = `INSERT INTO qx7_records (origin, id, timestamp_ms, version, ttl_ms)
	 VALUES (?, ?, ?, ?, ?)
	 ON CONFLICT (origin, id) DO UPDATE SET
	   timestamp_ms = excluded.timestamp_ms,
	   version = excluded.version,
	   ttl_ms = excluded.ttl_ms`

	upsertMetadata = `INSERT INTO qx7_metadata (origin, meta_key, id, timestamp_ms, ttl_ms, version)
	 VALUES (?, ?, ?, ?, ?, ?)
	 ON CONFLICT (origin, meta_key) DO UPDATE SET
	   id = excluded.id,
	   timestamp_ms = excluded.timestamp_ms,
	   ttl_ms = excluded.ttl_ms,
	   version = excluded.version`

	selectMetadata = `SELECT id, timestamp_ms, ttl_ms, version FROM qx7_metadata WHERE origin = ? AND meta_key = ?`

	deleteCurrentRecord = `DELETE FROM qx7_records
	 WHERE origin = ? AND id IN (SELECT id FROM qx7_metadata WHERE origin = ? AND meta_key = ?)`

	deleteMetadata = `DELETE FROM qx7_metadata WHERE origin = ? AND meta_key = ?`

	selectValue = `SELECT kv_value, expires_ms FROM qx7_kv WHERE origin = ? AND namespace = ? AND kv_key = ?`

	upsertValue = `INSERT INTO qx7_kv (origin, namespace, kv_key, kv_value, expires_ms)
	 VALUES (?, ?, ?, ?, ?)
	 ON CONFLICT (origin, namespace, kv_key) DO UPDATE SET
	   kv_value = excluded.kv_value,
	   expires_ms = excluded.expires_ms`

	deleteValue = `DELETE FROM qx7_kv WHERE origin = ? AND namespace = ? AND kv_key = ?`

	purgeExpired = `DELETE FROM qx7_records WHERE origin = ? AND ttl_ms > 0 AND timestamp_ms + ttl_ms <= ?`
)
