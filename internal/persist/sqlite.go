package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a local SQLite file.
type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows one writer at a time; serialize writes so
	// concurrent WriteEntry/WriteBatch calls do not fight over the
	// lock.
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{Path: path, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(context.Background(), db, DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteInsertEntry = `
INSERT INTO entries (
    id,
    method,
    url,
    request_headers,
    request_body,
    response_status,
    response_headers,
    response_body,
    failure,
    duration_ms,
    started_at,
    completed_at,
    created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) WriteEntry(ctx context.Context, record *Record) error {
	if record == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := normalizeRecord(record)
	err := retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, sqliteInsertEntry, sqliteInsertArgs(row)...)
		return err
	})
	if err != nil {
		return fmt.Errorf("write entry %q: %w", row.ID, err)
	}
	return nil
}

func (s *SQLiteStore) WriteBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sqlite batch transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx, sqliteInsertEntry)
		if err != nil {
			return fmt.Errorf("prepare sqlite batch insert: %w", err)
		}
		defer stmt.Close()

		for _, record := range records {
			if record == nil {
				continue
			}
			row := normalizeRecord(record)
			if _, err := stmt.ExecContext(ctx, sqliteInsertArgs(row)...); err != nil {
				return fmt.Errorf("write entry %q in batch: %w", row.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sqlite batch transaction: %w", err)
		}
		return nil
	})
}

func sqliteInsertArgs(row *Record) []any {
	return []any{
		row.ID,
		row.Method,
		row.URL,
		row.RequestHeaders,
		row.RequestBody,
		row.ResponseStatus,
		row.ResponseHeaders,
		row.ResponseBody,
		row.Failure,
		row.DurationMS,
		row.StartedAt,
		row.CompletedAt,
		row.CreatedAt,
	}
}

const sqliteSelectColumns = `
id,
method,
url,
request_headers,
request_body,
response_status,
response_headers,
response_body,
failure,
duration_ms,
CAST(started_at AS TEXT),
CAST(completed_at AS TEXT),
CAST(created_at AS TEXT)`

func (s *SQLiteStore) GetEntry(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteSelectColumns+" FROM entries WHERE id = ? LIMIT 1", id)
	record, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entry %q: %w", id, err)
	}
	return record, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Record, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqliteSelectColumns+" FROM entries ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}
	return records, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var (
		record          Record
		requestHeaders  sql.NullString
		responseStatus  sql.NullInt64
		responseHeaders sql.NullString
		failure         sql.NullString
		durationMS      sql.NullInt64
		startedAtText   sql.NullString
		completedAtText sql.NullString
		createdAtText   sql.NullString
	)

	if err := scanner.Scan(
		&record.ID,
		&record.Method,
		&record.URL,
		&requestHeaders,
		&record.RequestBody,
		&responseStatus,
		&responseHeaders,
		&record.ResponseBody,
		&failure,
		&durationMS,
		&startedAtText,
		&completedAtText,
		&createdAtText,
	); err != nil {
		return nil, err
	}

	if requestHeaders.Valid {
		record.RequestHeaders = requestHeaders.String
	}
	if responseStatus.Valid {
		record.ResponseStatus = int(responseStatus.Int64)
	}
	if responseHeaders.Valid {
		record.ResponseHeaders = responseHeaders.String
	}
	if failure.Valid {
		record.Failure = failure.String
	}
	if durationMS.Valid {
		record.DurationMS = durationMS.Int64
	}

	var err error
	if record.StartedAt, err = parseStoredTimestamp(startedAtText); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if record.CompletedAt, err = parseStoredTimestamp(completedAtText); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	if record.CreatedAt, err = parseStoredTimestamp(createdAtText); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &record, nil
}

// parseStoredTimestamp handles the datetime renderings SQLite produces
// depending on how the value was bound.
func parseStoredTimestamp(raw sql.NullString) (time.Time, error) {
	if !raw.Valid {
		return time.Time{}, nil
	}
	value := strings.TrimSpace(raw.String)
	if value == "" {
		return time.Time{}, nil
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05 -0700 MST",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	naiveLayouts := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported datetime format %q", value)
}

// normalizeRecord fills the fields storage requires so a partially
// populated record never fails an insert.
func normalizeRecord(in *Record) *Record {
	row := *in
	now := time.Now().UTC()

	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.Method == "" {
		row.Method = "UNKNOWN"
	}
	if row.StartedAt.IsZero() {
		row.StartedAt = row.CreatedAt
	}
	return &row
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries transient lock contention so queued entries
// are not dropped during concurrent writes.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	defer stopTimer()

	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			stopTimer()
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}
