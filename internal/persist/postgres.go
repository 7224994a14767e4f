package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists records in a Postgres database, for hosts
// that already run one.
type PostgresStore struct {
	DSN string
	db  *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	if err := Migrate(ctx, db, DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}

	return &PostgresStore{DSN: dsn, db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const postgresInsertEntry = `
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
) VALUES ($1, $2, $3, NULLIF($4, '')::jsonb, $5, $6, NULLIF($7, '')::jsonb, $8, $9, $10, $11, $12, $13)`

func (s *PostgresStore) WriteEntry(ctx context.Context, record *Record) error {
	if record == nil {
		return nil
	}

	row := normalizeRecord(record)
	if _, err := s.db.ExecContext(ctx, postgresInsertEntry, postgresInsertArgs(row)...); err != nil {
		return fmt.Errorf("write entry %q: %w", row.ID, err)
	}
	return nil
}

func (s *PostgresStore) WriteBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin postgres batch transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, postgresInsertEntry)
	if err != nil {
		return fmt.Errorf("prepare postgres batch insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if record == nil {
			continue
		}
		row := normalizeRecord(record)
		if _, err := stmt.ExecContext(ctx, postgresInsertArgs(row)...); err != nil {
			return fmt.Errorf("write entry %q in batch: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit postgres batch transaction: %w", err)
	}
	return nil
}

func postgresInsertArgs(row *Record) []any {
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

const postgresSelectColumns = `
id,
method,
url,
COALESCE(request_headers::text, ''),
request_body,
COALESCE(response_status, 0),
COALESCE(response_headers::text, ''),
response_body,
COALESCE(failure, ''),
COALESCE(duration_ms, 0),
started_at,
completed_at,
created_at`

func (s *PostgresStore) GetEntry(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postgresSelectColumns+" FROM entries WHERE id = $1 LIMIT 1", id)
	record, err := scanPostgresRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entry %q: %w", id, err)
	}
	return record, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Record, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx, "SELECT "+postgresSelectColumns+" FROM entries ORDER BY created_at DESC, id DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0, limit)
	for rows.Next() {
		record, err := scanPostgresRecord(rows)
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

func scanPostgresRecord(scanner rowScanner) (*Record, error) {
	var (
		record      Record
		startedAt   sql.NullTime
		completedAt sql.NullTime
		createdAt   sql.NullTime
	)

	if err := scanner.Scan(
		&record.ID,
		&record.Method,
		&record.URL,
		&record.RequestHeaders,
		&record.RequestBody,
		&record.ResponseStatus,
		&record.ResponseHeaders,
		&record.ResponseBody,
		&record.Failure,
		&record.DurationMS,
		&startedAt,
		&completedAt,
		&createdAt,
	); err != nil {
		return nil, err
	}

	if startedAt.Valid {
		record.StartedAt = startedAt.Time.UTC()
	}
	if completedAt.Valid {
		record.CompletedAt = completedAt.Time.UTC()
	}
	if createdAt.Valid {
		record.CreatedAt = createdAt.Time.UTC()
	}
	return &record, nil
}
