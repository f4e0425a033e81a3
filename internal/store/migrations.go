package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	name             TEXT NOT NULL,
	display_name     TEXT NOT NULL DEFAULT '',
	email_address    TEXT NOT NULL,
	username         TEXT NOT NULL,
	host             TEXT NOT NULL,
	port             INTEGER NOT NULL,
	use_ssl          INTEGER NOT NULL DEFAULT 1,
	protocol_url     TEXT NOT NULL DEFAULT '',
	discovery_method TEXT NOT NULL DEFAULT '',
	password_ref     TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	deleted_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_user_email_active
	ON accounts(user_id, email_address COLLATE NOCASE)
	WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS discovery_cache (
	domain           TEXT PRIMARY KEY,
	host             TEXT NOT NULL,
	port             INTEGER NOT NULL,
	use_ssl          INTEGER NOT NULL,
	protocol_url     TEXT NOT NULL DEFAULT '',
	discovery_method TEXT NOT NULL DEFAULT '',
	updated_at       DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
