package votes

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines ledger persistence. Upserts are conditional on the round
// still accepting that kind of vote and report false when it no longer does.
type Repository interface {
	UpsertDelibsVote(ctx context.Context, v DelibsVote) (bool, error)
	UpsertStandardVote(ctx context.Context, v StandardVote) (bool, error)
	UpsertInteraction(ctx context.Context, v Interaction) (bool, error)

	CountDelibs(ctx context.Context, pnmID, roundID uuid.UUID) (yes, no int, err error)
	CountScores(ctx context.Context, pnmID, roundID uuid.UUID) (map[int]int, error)
	CountInteractions(ctx context.Context, pnmID, roundID uuid.UUID) (interacted, notInteracted int, err error)

	ClearDelibsVotes(ctx context.Context, pnmID, roundID uuid.UUID) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// UpsertDelibsVote writes the decision only while the round is the open delibs
// round with voting open on this unsealed candidate. Last write wins.
func (r *repository) UpsertDelibsVote(ctx context.Context, v DelibsVote) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO delibs_votes (voter_id, pnm_id, round_id, decision, updated_at)
		SELECT $1::uuid, $2::uuid, $3::uuid, $4::boolean, $5::timestamptz
		FROM rounds r
		WHERE r.id = $3::uuid
		  AND r.type = 'delibs'
		  AND r.status = 'open'
		  AND r.voting_open
		  AND r.current_pnm_id = $2::uuid
		  AND NOT (($2::uuid)::text = ANY (r.sealed_pnm_ids))
		ON CONFLICT (voter_id, pnm_id, round_id)
		DO UPDATE SET decision = EXCLUDED.decision, updated_at = EXCLUDED.updated_at`,
		v.VoterID, v.PNMID, v.RoundID, v.Decision, v.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) UpsertStandardVote(ctx context.Context, v StandardVote) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO votes (voter_id, pnm_id, round_id, score, updated_at)
		SELECT $1::uuid, $2::uuid, $3::uuid, $4::smallint, $5::timestamptz
		FROM rounds r
		WHERE r.id = $3::uuid AND r.type = 'standard' AND r.status = 'open'
		ON CONFLICT (voter_id, pnm_id, round_id)
		DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`,
		v.VoterID, v.PNMID, v.RoundID, v.Score, v.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) UpsertInteraction(ctx context.Context, v Interaction) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO interactions (voter_id, pnm_id, round_id, interacted, updated_at)
		SELECT $1::uuid, $2::uuid, $3::uuid, $4::boolean, $5::timestamptz
		FROM rounds r
		WHERE r.id = $3::uuid AND r.type = 'did_not_interact' AND r.status = 'open'
		ON CONFLICT (voter_id, pnm_id, round_id)
		DO UPDATE SET interacted = EXCLUDED.interacted, updated_at = EXCLUDED.updated_at`,
		v.VoterID, v.PNMID, v.RoundID, v.Interacted, v.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) CountDelibs(ctx context.Context, pnmID, roundID uuid.UUID) (int, int, error) {
	var yes, no int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE decision), COUNT(*) FILTER (WHERE NOT decision)
		FROM delibs_votes
		WHERE pnm_id = $1 AND round_id = $2`, pnmID, roundID).Scan(&yes, &no)
	return yes, no, err
}

func (r *repository) CountScores(ctx context.Context, pnmID, roundID uuid.UUID) (map[int]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT score, COUNT(*)
		FROM votes
		WHERE pnm_id = $1 AND round_id = $2
		GROUP BY score`, pnmID, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var score, n int
		if err := rows.Scan(&score, &n); err != nil {
			return nil, err
		}
		counts[score] = n
	}
	return counts, rows.Err()
}

func (r *repository) CountInteractions(ctx context.Context, pnmID, roundID uuid.UUID) (int, int, error) {
	var yes, no int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE interacted), COUNT(*) FILTER (WHERE NOT interacted)
		FROM interactions
		WHERE pnm_id = $1 AND round_id = $2`, pnmID, roundID).Scan(&yes, &no)
	return yes, no, err
}

func (r *repository) ClearDelibsVotes(ctx context.Context, pnmID, roundID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM delibs_votes WHERE pnm_id = $1 AND round_id = $2`, pnmID, roundID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
