package persist

import (
	"context"
	"errors"
)

// ErrNotFound reports a lookup for an ID with no stored record.
var ErrNotFound = errors.New("persisted entry not found")

// Store is a durable sink for finalized exchange records.
type Store interface {
	WriteEntry(ctx context.Context, record *Record) error
	WriteBatch(ctx context.Context, records []*Record) error
	GetEntry(ctx context.Context, id string) (*Record, error)
	Recent(ctx context.Context, limit int) ([]*Record, error)
	Close() error
}
