package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/tmarcon/inboxsync/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
// A closed store transparently reopens its database on the next operation.
type SQLiteStore struct {
	path string
	log  *zap.Logger

	mu sync.Mutex
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables
// WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	s := &SQLiteStore{path: dbPath, log: log}

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	s.db = db

	return s, nil
}

// open establishes a connection and applies migrations.
func (s *SQLiteStore) open() (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

// handle returns the live database connection, reopening it if the store
// was closed earlier.
func (s *SQLiteStore) handle() (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	s.log.Warn("store used after close, reopening database")
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func runMigrations(db *sqlx.DB) error {
	currentVersion := 0

	var tableCount int
	err := db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// GetOrCreateFetcher resolves the surrogate id for a (kind, identifier)
// pair. The insert is attempted first; a uniqueness conflict means the
// fetcher already exists, so it is looked up by its unique key.
func (s *SQLiteStore) GetOrCreateFetcher(
	ctx context.Context,
	kind model.FetcherKind,
	identifier string,
) (int64, error) {
	if identifier == "" {
		return NoFetcher, errors.New("empty fetcher identifier")
	}

	db, err := s.handle()
	if err != nil {
		return NoFetcher, err
	}

	res, err := db.ExecContext(ctx,
		"INSERT INTO fetchers (kind, identifier) VALUES (?, ?)",
		int(kind), identifier,
	)
	if err == nil {
		return res.LastInsertId()
	}

	// The unique constraint fired: the fetcher is already in the table.
	var id int64
	qErr := db.GetContext(ctx, &id,
		"SELECT _db_id FROM fetchers WHERE kind = ? AND identifier = ?",
		int(kind), identifier,
	)
	if qErr != nil {
		if errors.Is(qErr, sql.ErrNoRows) {
			return NoFetcher, fmt.Errorf("inserting fetcher: %w", err)
		}
		return NoFetcher, fmt.Errorf("looking up fetcher: %w", qErr)
	}

	return id, nil
}

// notificationTime resolves a notification id to its stored receipt time
// in epoch milliseconds, or -1 when the id is unknown.
func (s *SQLiteStore) notificationTime(ctx context.Context, notificationID string) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return -1, err
	}

	var date int64
	err = db.GetContext(ctx, &date,
		"SELECT date FROM notifications WHERE notification_id = ? LIMIT 1",
		notificationID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("resolving cursor time: %w", err)
	}

	return date, nil
}

// Candidates returns the cached page the fetcher would show for the given
// cursor. An unknown cursor silently yields an empty list, which routes
// the page request to a cold fetch.
func (s *SQLiteStore) Candidates(
	ctx context.Context,
	cursor string,
	limit int,
	fetcherID int64,
) ([]model.Candidate, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT fn.notification_id, n.unread
		FROM fetcher_notifications fn
		INNER JOIN notifications n ON fn.notification_id = n.notification_id
		WHERE fn.fetcher_id = ?`
	args := []interface{}{fetcherID}

	if cursor != "" {
		cursorTime, err := s.notificationTime(ctx, cursor)
		if err != nil {
			return nil, err
		}
		if cursorTime == -1 {
			return nil, nil
		}
		query += " AND n.date < ?"
		args = append(args, cursorTime)
	}

	query += fmt.Sprintf(" ORDER BY n.date DESC LIMIT %d", limit)

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var (
			id     string
			unread int
		)
		if err := rows.Scan(&id, &unread); err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		candidates = append(candidates, model.Candidate{
			Identifier: id,
			Unread:     unread != 0,
		})
	}

	return candidates, rows.Err()
}

// Notifications loads the non-deleted cached rows for the given ids
// belonging to the fetcher, most recent first.
func (s *SQLiteStore) Notifications(
	ctx context.Context,
	ids []string,
	fetcherID int64,
) ([]*model.Notification, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	query, args, err := sqlx.In(`
		SELECT n.notification_id, n.send_id, n.title, n.body, n.unread,
		       n.deleted, n.date, n.payload, fn.install_id, fn.custom_id
		FROM fetcher_notifications fn
		INNER JOIN notifications n ON fn.notification_id = n.notification_id
		WHERE fn.fetcher_id = ?
		  AND n.deleted = 0
		  AND fn.notification_id IN (?)
		ORDER BY n.date DESC`,
		fetcherID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("building notifications query: %w", err)
	}

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			// A corrupted payload should not take the whole page down.
			s.log.Warn("skipping unreadable notification row", zap.Error(err))
			continue
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// InsertOrReplace upserts a notification and its fetcher link inside one
// transaction; both writes commit together or neither does.
func (s *SQLiteStore) InsertOrReplace(
	ctx context.Context,
	n *model.Notification,
	fetcherID int64,
) error {
	if n == nil {
		return errors.New("nil notification")
	}

	db, err := s.handle()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", n.Identifiers.Identifier, err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO notifications
			(notification_id, send_id, title, body, unread, deleted, date, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Identifiers.Identifier, n.Identifiers.SendID,
		n.Title, n.Body,
		boolToInt(n.Unread), boolToInt(n.Deleted),
		n.Date.UnixMilli(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("upserting notification %s: %w", n.Identifiers.Identifier, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO fetcher_notifications
			(fetcher_id, notification_id, install_id, custom_id)
		VALUES (?, ?, ?, ?)`,
		fetcherID, n.Identifiers.Identifier,
		nullable(n.Identifiers.InstallID), nullable(n.Identifiers.CustomID),
	)
	if err != nil {
		return fmt.Errorf("upserting fetcher link for %s: %w", n.Identifiers.Identifier, err)
	}

	return tx.Commit()
}

// UpdatePartial applies only the fields present in the update, touching
// both tables as needed in one transaction. An empty update means the
// cache already has the latest state and is a no-op success.
func (s *SQLiteStore) UpdatePartial(
	ctx context.Context,
	u *NotificationUpdate,
	fetcherID int64,
) error {
	if u == nil || u.NotificationID == "" {
		return errors.New("update without notification id")
	}
	if u.Empty() {
		return nil
	}

	db, err := s.handle()
	if err != nil {
		return err
	}

	var (
		notifSets []string
		notifArgs []interface{}
		linkSets  []string
		linkArgs  []interface{}
	)

	if u.SendID != nil {
		notifSets = append(notifSets, "send_id = ?")
		notifArgs = append(notifArgs, *u.SendID)
	}
	if u.Title != nil {
		notifSets = append(notifSets, "title = ?")
		notifArgs = append(notifArgs, *u.Title)
	}
	if u.Body != nil {
		notifSets = append(notifSets, "body = ?")
		notifArgs = append(notifArgs, *u.Body)
	}
	if u.Unread != nil {
		notifSets = append(notifSets, "unread = ?")
		notifArgs = append(notifArgs, boolToInt(*u.Unread))
	}
	if u.Date != nil {
		notifSets = append(notifSets, "date = ?")
		notifArgs = append(notifArgs, u.Date.UnixMilli())
	}
	if u.Payload != nil {
		payload, err := json.Marshal(u.Payload)
		if err != nil {
			return fmt.Errorf("marshaling payload update: %w", err)
		}
		notifSets = append(notifSets, "payload = ?")
		notifArgs = append(notifArgs, string(payload))
	}
	if u.InstallID != nil {
		linkSets = append(linkSets, "install_id = ?")
		linkArgs = append(linkArgs, *u.InstallID)
	}
	if u.CustomID != nil {
		linkSets = append(linkSets, "custom_id = ?")
		linkArgs = append(linkArgs, *u.CustomID)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if len(notifSets) > 0 {
		query := "UPDATE notifications SET " + strings.Join(notifSets, ", ") +
			" WHERE notification_id = ?"
		notifArgs = append(notifArgs, u.NotificationID)
		if _, err := tx.ExecContext(ctx, query, notifArgs...); err != nil {
			return fmt.Errorf("updating notification %s: %w", u.NotificationID, err)
		}
	}

	if len(linkSets) > 0 {
		query := "UPDATE fetcher_notifications SET " + strings.Join(linkSets, ", ") +
			" WHERE notification_id = ? AND fetcher_id = ?"
		linkArgs = append(linkArgs, u.NotificationID, fetcherID)
		if _, err := tx.ExecContext(ctx, query, linkArgs...); err != nil {
			return fmt.Errorf("updating fetcher link for %s: %w", u.NotificationID, err)
		}
	}

	return tx.Commit()
}

// MarkAllRead clears the unread flag on every notification received at or
// before cutoff that is linked to the fetcher.
func (s *SQLiteStore) MarkAllRead(
	ctx context.Context,
	cutoff time.Time,
	fetcherID int64,
) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE notifications SET unread = 0
		WHERE date <= ?
		  AND EXISTS (
			SELECT notification_id FROM fetcher_notifications
			WHERE fetcher_id = ?
			  AND notification_id = notifications.notification_id
		  )`,
		cutoff.UnixMilli(), fetcherID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking all as read: %w", err)
	}

	return res.RowsAffected()
}

// MarkRead marks a single notification as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, notificationID string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		"UPDATE notifications SET unread = 0 WHERE notification_id = ?",
		notificationID,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", notificationID, err)
	}
	return nil
}

// MarkDeleted soft-deletes a single notification. The row stays in place
// until the periodic purge so fetcher links remain consistent.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, notificationID string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		"UPDATE notifications SET deleted = 1 WHERE notification_id = ?",
		notificationID,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as deleted: %w", notificationID, err)
	}
	return nil
}

// Delete hard-deletes the given notifications and their fetcher links in
// one transaction. Returns false without error on an empty id list.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}

	db, err := s.handle()
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sqlx.In("DELETE FROM notifications WHERE notification_id IN (?)", ids)
	if err != nil {
		return false, fmt.Errorf("building delete query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("deleting notifications: %w", err)
	}

	query, args, err = sqlx.In("DELETE FROM fetcher_notifications WHERE notification_id IN (?)", ids)
	if err != nil {
		return false, fmt.Errorf("building delete query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("deleting fetcher links: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeExpired hard-deletes every notification whose receipt date fell
// out of the retention window, cascading to fetcher links.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	expireTime := time.Now().Add(-RetentionWindow).UnixMilli()

	var ids []string
	err = db.SelectContext(ctx, &ids,
		"SELECT notification_id FROM notifications WHERE date <= ?",
		expireTime,
	)
	if err != nil {
		return fmt.Errorf("querying expired notifications: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}

	s.log.Debug("purging expired notifications", zap.Int("count", len(ids)))
	_, err = s.Delete(ctx, ids)
	return err
}

// Wipe clears all cached state from the three tables.
func (s *SQLiteStore) Wipe(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	for _, table := range []string{"notifications", "fetcher_notifications", "fetchers"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("wiping %s: %w", table, err)
		}
	}
	return nil
}

// scanNotification rebuilds a model notification from a joined row.
func scanNotification(rows *sqlx.Rows) (*model.Notification, error) {
	var (
		n         model.Notification
		unread    int
		deleted   int
		date      int64
		payload   sql.NullString
		installID sql.NullString
		customID  sql.NullString
	)

	err := rows.Scan(
		&n.Identifiers.Identifier, &n.Identifiers.SendID,
		&n.Title, &n.Body, &unread, &deleted, &date,
		&payload, &installID, &customID,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Unread = unread != 0
	n.Deleted = deleted != 0
	n.Date = time.UnixMilli(date)
	n.Identifiers.InstallID = installID.String
	n.Identifiers.CustomID = customID.String

	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &n.Payload); err != nil {
			return nil, fmt.Errorf("unmarshaling payload: %w", err)
		}
	}

	data, err := model.ParseInternalPushData(n.Payload)
	if err != nil {
		return nil, fmt.Errorf("parsing internal push data: %w", err)
	}
	n.Source = data.Source()
	n.Identifiers.AdditionalData = data.ExtraParameters()

	return &n, nil
}

// nullable converts an empty string to a SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
