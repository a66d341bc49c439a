package quota

import (
	"context"
	"database/sql"
	"errors"
)

// UsageRecord is the persisted day counter.
type UsageRecord struct {
	UsageDate  string
	UsageCount int
}

// Repository persists the single usage_counter row.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Load returns the stored record, or the zero record when none exists.
func (r *Repository) Load(ctx context.Context) (UsageRecord, error) {
	var rec UsageRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT usage_date, usage_count FROM usage_counter WHERE id = 1`,
	).Scan(&rec.UsageDate, &rec.UsageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return UsageRecord{}, nil
	}
	return rec, err
}

// IncrementWithLimit adds one use for day unless that would exceed limit.
// A stored record for another day is replaced by a count of 1. A negative
// limit means unlimited. The check and the write are one statement, so
// concurrent callers can never push the count past limit.
func (r *Repository) IncrementWithLimit(ctx context.Context, day string, limit int) (count int, ok bool, err error) {
	if limit == 0 {
		return 0, false, nil
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO usage_counter (id, usage_date, usage_count) VALUES (1, ?1, 1)
		ON CONFLICT (id) DO UPDATE SET
			usage_count = CASE WHEN usage_counter.usage_date = ?1 THEN usage_counter.usage_count + 1 ELSE 1 END,
			usage_date = ?1
		WHERE usage_counter.usage_date <> ?1 OR ?2 < 0 OR usage_counter.usage_count < ?2
		RETURNING usage_count
	`, day, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

// Reset removes the stored record.
func (r *Repository) Reset(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM usage_counter`)
	return err
}
