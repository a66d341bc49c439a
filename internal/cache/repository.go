package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// entry is one row of link_preview_cache. Times are epoch milliseconds.
type entry struct {
	URL       string
	Data      string
	CreatedAt int64
	ExpiresAt int64
}

// Repository handles preview cache persistence.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// get returns the row for url, or nil when there is none.
func (r *Repository) get(ctx context.Context, url string) (*entry, error) {
	var e entry
	err := r.db.QueryRowContext(ctx, `
		SELECT url, data, created_at, expires_at FROM link_preview_cache WHERE url = ?
	`, url).Scan(&e.URL, &e.Data, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// deleteIfExpired removes url only if it is still expired at now, so a
// concurrent fresh write is not lost.
func (r *Repository) deleteIfExpired(ctx context.Context, url string, now int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM link_preview_cache WHERE url = ? AND expires_at < ?`, url, now)
	return err
}

// put writes e, first evicting the oldest rows when e.URL is new and the
// table holds capacity or more rows. It returns the number of evicted rows.
func (r *Repository) put(ctx context.Context, e entry, capacity int, batch bool) (evicted int64, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM link_preview_cache WHERE url = ?)`, e.URL,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check existing: %w", err)
	}

	if !exists && capacity > 0 {
		var count int
		if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM link_preview_cache`).Scan(&count); err != nil {
			return 0, fmt.Errorf("count entries: %w", err)
		}
		if count >= capacity {
			n := count - capacity + 1
			if batch {
				n = max(n, capacity/10)
			}
			res, err2 := tx.ExecContext(ctx, `
				DELETE FROM link_preview_cache WHERE url IN (
					SELECT url FROM link_preview_cache ORDER BY created_at ASC, rowid ASC LIMIT ?
				)
			`, n)
			if err2 != nil {
				err = fmt.Errorf("evict: %w", err2)
				return 0, err
			}
			evicted, _ = res.RowsAffected()
		}
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO link_preview_cache (url, data, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			data = excluded.data, created_at = excluded.created_at, expires_at = excluded.expires_at
	`, e.URL, e.Data, e.CreatedAt, e.ExpiresAt); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return evicted, nil
}

func (r *Repository) clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM link_preview_cache`)
	return err
}

func (r *Repository) count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM link_preview_cache`).Scan(&n)
	return n, err
}

// cleanExpired removes entries that expired before now.
func (r *Repository) cleanExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM link_preview_cache WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
