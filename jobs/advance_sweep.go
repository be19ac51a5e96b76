package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/rushboard/rushboard/internal/advance"
	jobmetrics "github.com/rushboard/rushboard/internal/jobs"
)

// CycleSource resolves the current cycle when a task does not name one.
type CycleSource interface {
	CurrentCycleID(ctx context.Context) (*uuid.UUID, error)
}

// Sweeper is the part of advance.Sweeper the job drives.
type Sweeper interface {
	Sweep(ctx context.Context, cycleID uuid.UUID, now time.Time) advance.Report
}

// SweepJob runs the auto-advance sweep on a schedule.
type SweepJob struct {
	Sweeper Sweeper
	Cycles  CycleSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSweepJob initialises the sweep handler.
func NewSweepJob(sweeper Sweeper, cycles CycleSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *SweepJob {
	return &SweepJob{
		Sweeper: sweeper,
		Cycles:  cycles,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep. A sweep that captured errors is archived rather than
// retried: the next scheduled run recomputes everything from stored state.
func (j *SweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("advance sweep: handler not configured")
	}
	var payload SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("advance sweep: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.Metrics.Track(TaskAdvanceSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cycleID := payload.CycleID
	if cycleID == nil {
		if j.Cycles == nil {
			return fmt.Errorf("advance sweep: no cycle source: %w", asynq.SkipRetry)
		}
		current, err := j.Cycles.CurrentCycleID(ctx)
		if err != nil {
			return fmt.Errorf("advance sweep: resolve current cycle: %w", err)
		}
		if current == nil {
			j.logger().Debug("no current cycle, skipping sweep")
			return nil
		}
		cycleID = current
	}

	report := j.Sweeper.Sweep(ctx, *cycleID, j.clock())
	for _, tr := range report.Transitions {
		j.Metrics.AddTransitions(string(tr.Action), 1)
	}
	j.Metrics.AddSkipped(len(report.Skipped))

	if report.Failed() {
		j.logger().Error("sweep captured errors",
			slog.String("cycle_id", cycleID.String()),
			slog.Any("errors", report.Errors))
		return fmt.Errorf("advance sweep: %s: %w", strings.Join(report.Errors, "; "), asynq.SkipRetry)
	}
	return nil
}

func (j *SweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
