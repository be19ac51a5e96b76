package votes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/rounds"
	"github.com/rushboard/rushboard/internal/shared"
)

// RoundReader loads the round a vote targets.
type RoundReader interface {
	GetRound(ctx context.Context, id uuid.UUID) (rounds.Round, error)
}

// Publication reports whether a publish flag is set.
type Publication interface {
	Published(ctx context.Context, key string) (bool, error)
}

// Service validates eligibility and records votes.
type Service struct {
	repo   Repository
	rounds RoundReader
	flags  Publication
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewService creates a new service.
func NewService(repo Repository, rounds RoundReader, flags Publication, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, rounds: rounds, flags: flags, audit: audit, logger: logger, now: time.Now}
}

// DelibsVoteInput carries a live deliberation decision.
type DelibsVoteInput struct {
	PNMID    uuid.UUID
	RoundID  uuid.UUID
	Decision bool
}

// StandardVoteInput carries a 1..5 score.
type StandardVoteInput struct {
	PNMID   uuid.UUID
	RoundID uuid.UUID
	Score   int
}

// InteractionInput carries a did-not-interact answer.
type InteractionInput struct {
	PNMID      uuid.UUID
	RoundID    uuid.UUID
	Interacted bool
}

func voterID(actor *auth.Principal) (uuid.UUID, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return uuid.Nil, err
	}
	if actor.ID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("votes: principal cannot vote: %w", shared.ErrForbidden)
	}
	return actor.ID, nil
}

func (s *Service) round(ctx context.Context, id uuid.UUID) (rounds.Round, error) {
	round, err := s.rounds.GetRound(ctx, id)
	if err != nil {
		return rounds.Round{}, fmt.Errorf("votes: load round: %w", err)
	}
	return round, nil
}

// SubmitDelibsVote records a decision for the candidate currently up for a vote.
// Repeating the call with the same decision leaves one identical row.
func (s *Service) SubmitDelibsVote(ctx context.Context, actor *auth.Principal, in DelibsVoteInput) (DelibsVote, error) {
	voter, err := voterID(actor)
	if err != nil {
		return DelibsVote{}, err
	}
	round, err := s.round(ctx, in.RoundID)
	if err != nil {
		return DelibsVote{}, err
	}
	switch {
	case round.Type != rounds.RoundTypeDelibs:
		return DelibsVote{}, fmt.Errorf("%w: round is not a delibs round", ErrVotingClosed)
	case round.Status != rounds.RoundStatusOpen:
		return DelibsVote{}, fmt.Errorf("%w: round is %s", ErrVotingClosed, round.Status)
	case !round.VotingOpen:
		return DelibsVote{}, fmt.Errorf("%w: voting is paused", ErrVotingClosed)
	case round.CurrentPNMID == nil || *round.CurrentPNMID != in.PNMID:
		return DelibsVote{}, fmt.Errorf("%w: candidate is not up for a vote", ErrVotingClosed)
	case round.IsSealed(in.PNMID):
		return DelibsVote{}, fmt.Errorf("%w: candidate result is sealed", ErrVotingClosed)
	}

	vote := DelibsVote{VoterID: voter, PNMID: in.PNMID, RoundID: in.RoundID, Decision: in.Decision, UpdatedAt: s.now().UTC()}
	ok, err := s.repo.UpsertDelibsVote(ctx, vote)
	if err != nil {
		return DelibsVote{}, fmt.Errorf("votes: record delibs vote: %w", err)
	}
	if !ok {
		return DelibsVote{}, fmt.Errorf("%w: voting closed while the vote was submitted", ErrVotingClosed)
	}
	return vote, nil
}

// SubmitStandardVote records a score in an open standard round.
func (s *Service) SubmitStandardVote(ctx context.Context, actor *auth.Principal, in StandardVoteInput) (StandardVote, error) {
	voter, err := voterID(actor)
	if err != nil {
		return StandardVote{}, err
	}
	if in.Score < MinScore || in.Score > MaxScore {
		return StandardVote{}, ErrInvalidScore
	}
	if err := s.requireOpen(ctx, in.RoundID, rounds.RoundTypeStandard); err != nil {
		return StandardVote{}, err
	}

	vote := StandardVote{VoterID: voter, PNMID: in.PNMID, RoundID: in.RoundID, Score: in.Score, UpdatedAt: s.now().UTC()}
	ok, err := s.repo.UpsertStandardVote(ctx, vote)
	if err != nil {
		return StandardVote{}, fmt.Errorf("votes: record standard vote: %w", err)
	}
	if !ok {
		return StandardVote{}, ErrRoundNotOpen
	}
	return vote, nil
}

// SubmitInteraction records an interaction answer in an open did-not-interact round.
func (s *Service) SubmitInteraction(ctx context.Context, actor *auth.Principal, in InteractionInput) (Interaction, error) {
	voter, err := voterID(actor)
	if err != nil {
		return Interaction{}, err
	}
	if err := s.requireOpen(ctx, in.RoundID, rounds.RoundTypeDidNotInteract); err != nil {
		return Interaction{}, err
	}

	answer := Interaction{VoterID: voter, PNMID: in.PNMID, RoundID: in.RoundID, Interacted: in.Interacted, UpdatedAt: s.now().UTC()}
	ok, err := s.repo.UpsertInteraction(ctx, answer)
	if err != nil {
		return Interaction{}, fmt.Errorf("votes: record interaction: %w", err)
	}
	if !ok {
		return Interaction{}, ErrRoundNotOpen
	}
	return answer, nil
}

func (s *Service) requireOpen(ctx context.Context, roundID uuid.UUID, typ rounds.RoundType) error {
	round, err := s.round(ctx, roundID)
	if err != nil {
		return err
	}
	if round.Type != typ {
		return ErrWrongRoundType
	}
	if round.Status != rounds.RoundStatusOpen {
		return ErrRoundNotOpen
	}
	return nil
}

// DelibsTally counts decisions. Voters see it only once results are revealed.
func (s *Service) DelibsTally(ctx context.Context, actor *auth.Principal, pnmID, roundID uuid.UUID) (DelibsTally, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return DelibsTally{}, err
	}
	if !actor.IsAdmin() {
		round, err := s.round(ctx, roundID)
		if err != nil {
			return DelibsTally{}, err
		}
		if !round.ResultsRevealed {
			return DelibsTally{}, ErrResultsHidden
		}
	}
	key := fmt.Sprintf("delibs:%s:%s", roundID, pnmID)
	return coalesce(ctx, &s.group, key, func(ctx context.Context) (DelibsTally, error) {
		yes, no, err := s.repo.CountDelibs(ctx, pnmID, roundID)
		if err != nil {
			return DelibsTally{}, fmt.Errorf("votes: count delibs votes: %w", err)
		}
		return DelibsTally{PNMID: pnmID, RoundID: roundID, Yes: yes, No: no}, nil
	})
}

// StandardTally summarises scores. Voters see it only while stats are published.
func (s *Service) StandardTally(ctx context.Context, actor *auth.Principal, pnmID, roundID uuid.UUID) (StandardTally, error) {
	if err := s.requirePublished(ctx, actor, FlagStatsPublished); err != nil {
		return StandardTally{}, err
	}
	key := fmt.Sprintf("standard:%s:%s", roundID, pnmID)
	return coalesce(ctx, &s.group, key, func(ctx context.Context) (StandardTally, error) {
		counts, err := s.repo.CountScores(ctx, pnmID, roundID)
		if err != nil {
			return StandardTally{}, fmt.Errorf("votes: count scores: %w", err)
		}
		return NewStandardTally(pnmID, roundID, counts), nil
	})
}

// InteractionTally counts interaction answers. Voters see it only while dni stats are published.
func (s *Service) InteractionTally(ctx context.Context, actor *auth.Principal, pnmID, roundID uuid.UUID) (InteractionTally, error) {
	if err := s.requirePublished(ctx, actor, FlagDNIStatsPublished); err != nil {
		return InteractionTally{}, err
	}
	key := fmt.Sprintf("interactions:%s:%s", roundID, pnmID)
	return coalesce(ctx, &s.group, key, func(ctx context.Context) (InteractionTally, error) {
		yes, no, err := s.repo.CountInteractions(ctx, pnmID, roundID)
		if err != nil {
			return InteractionTally{}, fmt.Errorf("votes: count interactions: %w", err)
		}
		return InteractionTally{PNMID: pnmID, RoundID: roundID, Interacted: yes, NotInteracted: no}, nil
	})
}

func (s *Service) requirePublished(ctx context.Context, actor *auth.Principal, flag string) error {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return err
	}
	if actor.IsAdmin() {
		return nil
	}
	if s.flags == nil {
		return ErrResultsHidden
	}
	published, err := s.flags.Published(ctx, flag)
	if err != nil {
		return fmt.Errorf("votes: read %s: %w", flag, err)
	}
	if !published {
		return ErrResultsHidden
	}
	return nil
}

// ClearDelibsVotes irreversibly deletes every decision for the candidate in the round.
func (s *Service) ClearDelibsVotes(ctx context.Context, actor *auth.Principal, pnmID, roundID uuid.UUID) (int64, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return 0, err
	}
	round, err := s.round(ctx, roundID)
	if err != nil {
		return 0, err
	}
	if round.IsSealed(pnmID) {
		return 0, ErrCandidateSealed
	}
	deleted, err := s.repo.ClearDelibsVotes(ctx, pnmID, roundID)
	if err != nil {
		return 0, fmt.Errorf("votes: clear delibs votes: %w", err)
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.String(),
		Action:   "votes.clear",
		Entity:   "round",
		EntityID: roundID.String(),
		Meta:     map[string]any{"pnm_id": pnmID.String(), "deleted": deleted},
		At:       s.now().UTC(),
	}); err != nil {
		s.logger.Warn("record audit log", slog.String("action", "votes.clear"), slog.Any("error", err))
	}
	return deleted, nil
}
