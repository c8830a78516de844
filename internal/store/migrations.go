package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Migrations must stay additive: new versions may add tables or columns
// with defaults, never rewrite existing rows.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fetchers (
	_db_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       INTEGER NOT NULL,
	identifier TEXT NOT NULL,
	UNIQUE(kind, identifier)
);

CREATE TABLE IF NOT EXISTS notifications (
	_db_id          INTEGER PRIMARY KEY AUTOINCREMENT,
	notification_id TEXT NOT NULL,
	send_id         TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL DEFAULT '',
	unread          INTEGER NOT NULL DEFAULT 0 CHECK(unread IN (0, 1)),
	date            INTEGER NOT NULL,
	payload         TEXT,
	UNIQUE(notification_id, send_id)
);

CREATE TABLE IF NOT EXISTS fetcher_notifications (
	_db_id          INTEGER PRIMARY KEY AUTOINCREMENT,
	fetcher_id      INTEGER NOT NULL REFERENCES fetchers(_db_id),
	notification_id TEXT NOT NULL,
	install_id      TEXT,
	custom_id       TEXT,
	UNIQUE(fetcher_id, notification_id)
);

CREATE INDEX IF NOT EXISTS idx_notifications_date ON notifications(date);
CREATE INDEX IF NOT EXISTS idx_fetcher_notifications_notification
	ON fetcher_notifications(notification_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE notifications
	ADD COLUMN deleted INTEGER NOT NULL DEFAULT 0 CHECK(deleted IN (0, 1));

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
