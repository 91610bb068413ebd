package databases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/linesmerrill/alarm-trigger-api/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alarms (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    kind              TEXT NOT NULL,
    time_of_day       TEXT NOT NULL,
    date              TEXT NOT NULL DEFAULT '',
    repeat_days       TEXT NOT NULL DEFAULT '',
    title             TEXT NOT NULL DEFAULT '',
    message           TEXT NOT NULL DEFAULT '',
    is_active         INTEGER NOT NULL DEFAULT 1,
    next_trigger_at   INTEGER,
    last_triggered_at INTEGER,
    trigger_count     INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alarms_due ON alarms(next_trigger_at) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS reminders (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    kind              TEXT NOT NULL,
    time_of_day       TEXT NOT NULL,
    date              TEXT NOT NULL DEFAULT '',
    repeat_days       TEXT NOT NULL DEFAULT '',
    title             TEXT NOT NULL DEFAULT '',
    message           TEXT NOT NULL DEFAULT '',
    is_active         INTEGER NOT NULL DEFAULT 1,
    next_trigger_at   INTEGER,
    last_triggered_at INTEGER,
    trigger_count     INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(next_trigger_at) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    email      TEXT NOT NULL UNIQUE,
    username   TEXT NOT NULL DEFAULT '',
    password   TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
`

// SQLiteStore is a single-node trigger store backed by an embedded SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the SQLite database at the given path, applies
// PRAGMAs and the schema, and returns the store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite is a single-writer engine; one connection also keeps the
	// compare-and-swap updates strictly serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Alarms returns the alarm trigger store
func (s *SQLiteStore) Alarms() ScheduleDatabase {
	return &sqliteScheduleDatabase{db: s.db, table: alarmCollectionName, itemType: models.ItemTypeAlarm}
}

// Reminders returns the reminder trigger store
func (s *SQLiteStore) Reminders() ScheduleDatabase {
	return &sqliteScheduleDatabase{db: s.db, table: reminderCollectionName, itemType: models.ItemTypeReminder}
}

// Users returns the user lookup used by the session authenticator
func (s *SQLiteStore) Users() UserDatabase {
	return &sqliteUserDatabase{db: s.db}
}

// InsertUser stores a user with an already hashed password
func (s *SQLiteStore) InsertUser(ctx context.Context, u models.User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, password, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Details.Email)), u.Details.Username,
		u.Details.Password, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return u.ID, nil
}

type sqliteUserDatabase struct {
	db *sql.DB
}

func (u *sqliteUserDatabase) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := u.db.QueryRowContext(ctx, `
		SELECT id, email, username, password FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&user.ID, &user.Details.Email, &user.Details.Username, &user.Details.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type sqliteScheduleDatabase struct {
	db       *sql.DB
	table    string
	itemType models.ItemType
}

const scheduleColumns = `id, user_id, kind, time_of_day, date, repeat_days, title, message,
	is_active, next_trigger_at, last_triggered_at, trigger_count, created_at, updated_at`

func (s *sqliteScheduleDatabase) ItemType() models.ItemType {
	return s.itemType
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *sqliteScheduleDatabase) scanItem(row rowScanner) (models.ScheduleItem, error) {
	var (
		item       models.ScheduleItem
		kind       string
		repeatDays string
		active     int
		nextMS     sql.NullInt64
		lastMS     sql.NullInt64
		createdMS  int64
		updatedMS  int64
	)
	if err := row.Scan(
		&item.ID, &item.UserID, &kind, &item.TimeOfDay, &item.Date, &repeatDays,
		&item.Title, &item.Message, &active, &nextMS, &lastMS, &item.TriggerCount,
		&createdMS, &updatedMS,
	); err != nil {
		return models.ScheduleItem{}, err
	}
	days, err := parseRepeatDays(repeatDays)
	if err != nil {
		return models.ScheduleItem{}, fmt.Errorf("%s %s: %w", s.table, item.ID, err)
	}
	item.ItemType = s.itemType
	item.Kind = models.Kind(kind)
	item.RepeatDays = days
	item.IsActive = active != 0
	item.NextTriggerAt = fromNullMillis(nextMS)
	item.LastTriggeredAt = fromNullMillis(lastMS)
	item.CreatedAt = time.UnixMilli(createdMS).UTC()
	item.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return item, nil
}

func (s *sqliteScheduleDatabase) FindByID(ctx context.Context, id string) (*models.ScheduleItem, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, scheduleColumns, s.table), id)
	item, err := s.scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *sqliteScheduleDatabase) FindDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduleItem, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE is_active = 1
		  AND next_trigger_at IS NOT NULL
		  AND next_trigger_at <= ?
		ORDER BY next_trigger_at ASC
		LIMIT ?`, scheduleColumns, s.table),
		now.UTC().UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find due %s: %w", s.table, err)
	}
	defer rows.Close()

	var items []models.ScheduleItem
	for rows.Next() {
		item, err := s.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *sqliteScheduleDatabase) InsertOne(ctx context.Context, item models.ScheduleItem) (string, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table, scheduleColumns),
		item.ID, item.UserID, string(item.Kind), item.TimeOfDay, item.Date,
		formatRepeatDays(item.RepeatDays), item.Title, item.Message, boolToInt(item.IsActive),
		toNullMillis(item.NextTriggerAt), toNullMillis(item.LastTriggeredAt), item.TriggerCount,
		item.CreatedAt.UTC().UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", s.table, err)
	}
	return item.ID, nil
}

func (s *sqliteScheduleDatabase) CompareAndSwapTrigger(ctx context.Context, id string, expectedNext, last time.Time, next *time.Time) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET last_triggered_at = ?,
		    next_trigger_at   = ?,
		    trigger_count     = trigger_count + 1,
		    updated_at        = ?
		WHERE id = ?
		  AND is_active = 1
		  AND next_trigger_at = ?`, s.table),
		last.UTC().UnixMilli(), toNullMillis(next), time.Now().UTC().UnixMilli(),
		id, expectedNext.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("swap trigger %s/%s: %w", s.table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap trigger %s/%s: %w", s.table, id, err)
	}
	if n == 0 {
		return ErrTriggerConflict
	}
	return nil
}

func (s *sqliteScheduleDatabase) UpdateSchedule(ctx context.Context, item models.ScheduleItem) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET kind = ?, time_of_day = ?, date = ?, repeat_days = ?, is_active = ?,
		    next_trigger_at = ?, updated_at = ?
		WHERE id = ?`, s.table),
		string(item.Kind), item.TimeOfDay, item.Date, formatRepeatDays(item.RepeatDays),
		boolToInt(item.IsActive), toNullMillis(item.NextTriggerAt), time.Now().UTC().UnixMilli(),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update schedule %s/%s: %w", s.table, item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromNullMillis(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.UnixMilli(ns.Int64).UTC()
	return &t
}

func formatRepeatDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseRepeatDays(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid repeat day %q", p)
		}
		days = append(days, d)
	}
	return days, nil
}

// boolToInt converts a boolean to 1/0 for SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
