package postgres

// Schema is the DDL for every table the store touches. Statements are
// idempotent so EnsureSchema can run on every startup; production
// deployments that manage migrations separately can apply the same DDL
// through their own tooling and skip EnsureSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS authcore_identities (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	email              TEXT NOT NULL,
	password_hash      TEXT NOT NULL,
	status             SMALLINT NOT NULL DEFAULT 0,
	email_verified     BOOLEAN NOT NULL DEFAULT FALSE,
	two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	failed_attempts    INTEGER NOT NULL DEFAULT 0,
	locked_until       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_login_at      TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS authcore_identities_tenant_email_idx
	ON authcore_identities (tenant_id, email);

CREATE TABLE IF NOT EXISTS authcore_two_factor (
	identity_id TEXT PRIMARY KEY REFERENCES authcore_identities(id) ON DELETE CASCADE,
	secret      TEXT NOT NULL,
	confirmed   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS authcore_backup_codes (
	identity_id TEXT NOT NULL REFERENCES authcore_identities(id) ON DELETE CASCADE,
	code_hash   BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (identity_id, code_hash)
);

CREATE TABLE IF NOT EXISTS authcore_activity_log (
	id          BIGSERIAL PRIMARY KEY,
	identity_id TEXT NOT NULL,
	tenant_id   TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL,
	ip          TEXT NOT NULL DEFAULT '',
	success     BOOLEAN NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS authcore_activity_log_identity_idx
	ON authcore_activity_log (identity_id, at DESC);
`
