package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
)

// TriggerType is recorded on runs started by the scheduler.
const TriggerType = "scheduled"

// Trigger starts a capture run.
type Trigger interface {
	Trigger(ctx context.Context, req service.TriggerRequest) (*service.RunResult, error)
}

// SnapshotJob captures every configured account.
type SnapshotJob struct {
	trigger Trigger
	timeout time.Duration
	log     zerolog.Logger
}

// NewSnapshotJob creates a SnapshotJob. A non-zero timeout bounds each run.
func NewSnapshotJob(trigger Trigger, timeout time.Duration, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		trigger: trigger,
		timeout: timeout,
		log:     log.With().Str("job", TriggerType+"_snapshot").Logger(),
	}
}

// Name returns the job name
func (j *SnapshotJob) Name() string {
	return "snapshot"
}

// Run triggers a run and waits until it is terminal. Account failures are
// part of the run result; only a run that could not start is an error.
func (j *SnapshotJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	res, err := j.trigger.Trigger(ctx, service.TriggerRequest{TriggerType: TriggerType})
	if err != nil {
		return err
	}

	ev := j.log.Info()
	if res.Status != model.RunStatusSuccess {
		ev = j.log.Warn()
	}
	if res.ErrorSummary != nil {
		ev = ev.Str("error_summary", *res.ErrorSummary)
	}
	ev.Str("run_id", res.RunID).
		Str("status", string(res.Status)).
		Int("accounts", len(res.Outcomes)).
		Msg("Scheduled run finished")
	return nil
}
