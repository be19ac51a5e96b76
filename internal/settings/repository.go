package settings

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists settings rows.
type Repository interface {
	All(ctx context.Context) (map[string]string, error)
	// Upsert writes value; nil stores SQL NULL.
	Upsert(ctx context.Context, key string, value *string) error
	// ClearIfEquals nulls key only when it currently holds value.
	ClearIfEquals(ctx context.Context, key, value string) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, COALESCE(value, '') FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (r *repository) Upsert(ctx context.Context, key string, value *string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	return err
}

func (r *repository) ClearIfEquals(ctx context.Context, key, value string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE settings SET value = NULL, updated_at = NOW() WHERE key = $1 AND value = $2`, key, value)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
