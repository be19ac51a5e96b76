package cycles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists cycles.
type Repository interface {
	Create(ctx context.Context, name string) (Cycle, error)
	Get(ctx context.Context, id uuid.UUID) (Cycle, error)
	List(ctx context.Context) ([]Cycle, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateInput) (Cycle, error)
	CycleExists(ctx context.Context, id uuid.UUID) (bool, error)
	// DeleteDependents runs one cascade step outside any transaction.
	DeleteDependents(ctx context.Context, step Step, cycleID uuid.UUID) (int64, error)
	DeleteCycle(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const cycleColumns = `id, name, status, created_at`

func scanCycle(row pgx.Row) (Cycle, error) {
	var c Cycle
	if err := row.Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, ErrCycleNotFound
		}
		return Cycle{}, err
	}
	return c, nil
}

func (r *repository) Create(ctx context.Context, name string) (Cycle, error) {
	return scanCycle(r.pool.QueryRow(ctx, `
		INSERT INTO cycles (id, name, status) VALUES ($1, $2, 'active')
		RETURNING `+cycleColumns, uuid.New(), name))
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Cycle, error) {
	return scanCycle(r.pool.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = $1`, id))
}

func (r *repository) List(ctx context.Context) ([]Cycle, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+cycleColumns+` FROM cycles ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (Cycle, error) {
	sets := make([]string, 0, 2)
	args := []any{id}
	idx := 2
	if in.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *in.Name)
		idx++
	}
	if in.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, string(*in.Status))
	}
	query := `UPDATE cycles SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + cycleColumns
	return scanCycle(r.pool.QueryRow(ctx, query, args...))
}

func (r *repository) CycleExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cycles WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *repository) DeleteDependents(ctx context.Context, step Step, cycleID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, step.SQL, cycleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) DeleteCycle(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cycles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCycleNotFound
	}
	return nil
}
