package store

import (
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestMigrationsUpgradeV1Database(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	// Build a v1 database with data, then run the full migration chain
	// over it like a fresh open would.
	_, err = db.Exec(migrations[0].sql)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO notifications (notification_id, send_id, title, unread, date)
		VALUES ('n1', 's1', 'kept', 1, 1700000000000)`)
	require.NoError(t, err)

	require.NoError(t, runMigrations(db))

	var version int
	require.NoError(t, db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, 2, version)

	// Existing rows survive with the new column defaulted.
	var (
		title   string
		deleted int
	)
	row := db.QueryRow("SELECT title, deleted FROM notifications WHERE notification_id = 'n1'")
	require.NoError(t, row.Scan(&title, &deleted))
	assert.Equal(t, "kept", title)
	assert.Equal(t, 0, deleted)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, runMigrations(db))
	require.NoError(t, runMigrations(db))

	var version int
	require.NoError(t, db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, 2, version)
}

func TestNotificationUniquenessKey(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, runMigrations(db))

	insert := `INSERT INTO notifications (notification_id, send_id, date) VALUES (?, ?, 1)`
	_, err = db.Exec(insert, "n1", "s1")
	require.NoError(t, err)

	// Same pair violates the unique key.
	_, err = db.Exec(insert, "n1", "s1")
	assert.Error(t, err)

	// Same delivery id under another send id is a distinct row.
	_, err = db.Exec(insert, "n1", "s2")
	assert.NoError(t, err)
}
