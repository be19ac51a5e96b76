// Package votes is the ledger of per-candidate decisions, keyed by (voter, candidate, round).
package votes

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/shared"
)

// DelibsVote is a yes/no decision cast during live deliberation.
type DelibsVote struct {
	VoterID   uuid.UUID `json:"voterId"`
	PNMID     uuid.UUID `json:"pnmId"`
	RoundID   uuid.UUID `json:"roundId"`
	Decision  bool      `json:"decision"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StandardVote is a 1..5 score.
type StandardVote struct {
	VoterID   uuid.UUID `json:"voterId"`
	PNMID     uuid.UUID `json:"pnmId"`
	RoundID   uuid.UUID `json:"roundId"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Interaction records whether a voter met the candidate.
type Interaction struct {
	VoterID    uuid.UUID `json:"voterId"`
	PNMID      uuid.UUID `json:"pnmId"`
	RoundID    uuid.UUID `json:"roundId"`
	Interacted bool      `json:"interacted"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DelibsTally counts decisions for one candidate in one round.
type DelibsTally struct {
	PNMID   uuid.UUID `json:"pnmId"`
	RoundID uuid.UUID `json:"roundId"`
	Yes     int       `json:"yes"`
	No      int       `json:"no"`
}

// StandardTally summarises scores for one candidate in one round.
type StandardTally struct {
	PNMID        uuid.UUID   `json:"pnmId"`
	RoundID      uuid.UUID   `json:"roundId"`
	Count        int         `json:"count"`
	Average      float64     `json:"average"`
	Distribution map[int]int `json:"distribution"`
}

// InteractionTally counts interaction answers for one candidate in one round.
type InteractionTally struct {
	PNMID         uuid.UUID `json:"pnmId"`
	RoundID       uuid.UUID `json:"roundId"`
	Interacted    int       `json:"interacted"`
	NotInteracted int       `json:"notInteracted"`
}

const (
	MinScore = 1
	MaxScore = 5
)

// NewStandardTally folds per-score counts into a tally.
func NewStandardTally(pnmID, roundID uuid.UUID, counts map[int]int) StandardTally {
	t := StandardTally{PNMID: pnmID, RoundID: roundID, Distribution: make(map[int]int, MaxScore)}
	sum := 0
	for score := MinScore; score <= MaxScore; score++ {
		n := counts[score]
		t.Distribution[score] = n
		t.Count += n
		sum += n * score
	}
	if t.Count > 0 {
		t.Average = float64(sum) / float64(t.Count)
	}
	return t
}

// Keys of the publish flags that gate voter access to tallies.
const (
	FlagStatsPublished    = "stats_published"
	FlagDNIStatsPublished = "dni_stats_published"
)

var (
	// ErrVotingClosed indicates a delibs vote outside the open voting window for that candidate.
	ErrVotingClosed = fmt.Errorf("votes: voting is not open for this candidate: %w", shared.ErrInvalidState)
	// ErrRoundNotOpen indicates a vote against a round that is not open.
	ErrRoundNotOpen = fmt.Errorf("votes: round is not open: %w", shared.ErrInvalidState)
	// ErrWrongRoundType indicates a vote kind that does not match the round type.
	ErrWrongRoundType = fmt.Errorf("votes: vote kind does not match round type: %w", shared.ErrInvalidState)
	// ErrInvalidScore indicates a score outside 1..5.
	ErrInvalidScore = fmt.Errorf("votes: score must be between %d and %d: %w", MinScore, MaxScore, shared.ErrValidation)
	// ErrCandidateSealed indicates an attempt to clear a finalised result.
	ErrCandidateSealed = fmt.Errorf("votes: candidate result is sealed: %w", shared.ErrInvalidState)
	// ErrResultsHidden indicates a voter asking for tallies that are not published yet.
	ErrResultsHidden = fmt.Errorf("votes: results are not published: %w", shared.ErrForbidden)
)
