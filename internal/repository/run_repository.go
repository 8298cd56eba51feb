package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// RunRepository provides data access methods for the run and
// run_account_outcome tables.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository with the provided database connection.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, trigger_type, triggered_by, started_at, finished_at, status,
	schema_version, app_version, error_summary`

// InsertRun stores a new run. The run must be in the running state.
func (r *RunRepository) InsertRun(ctx context.Context, run model.Run) error {
	if run.Status != model.RunStatusRunning {
		return fmt.Errorf("%w: new run must be running, got %s", apperrors.ErrDataInconsistency, run.Status)
	}
	query := `INSERT INTO run (` + runColumns + `) VALUES (?, ?, ?, ?, NULL, ?, ?, ?, NULL)`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.TriggerType, nullString(run.TriggeredBy), FormatTime(run.StartedAt),
		string(run.Status), run.SchemaVersion, run.AppVersion)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinalizeRun moves a running run to its terminal status. The transition
// happens at most once: a run that is no longer running is left untouched
// and ErrDataInconsistency is returned.
func (r *RunRepository) FinalizeRun(ctx context.Context, id string, status model.RunStatus, finishedAt time.Time, summary *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", apperrors.ErrDataInconsistency, status)
	}
	query := `
		UPDATE run SET status = ?, finished_at = ?, error_summary = ?
		WHERE id = ? AND status = 'running'
	`
	res, err := r.db.ExecContext(ctx, query, string(status), FormatTime(finishedAt), nullString(summary), id)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read finalize result: %w", err)
	}
	if n == 0 {
		if _, err := r.GetRun(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: run %s already finalized", apperrors.ErrDataInconsistency, id)
	}
	return nil
}

// GetRun retrieves a run by id.
func (r *RunRepository) GetRun(ctx context.Context, id string) (model.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM run WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, apperrors.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM run ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (model.Run, error) {
	var run model.Run
	var triggeredBy, finishedAt, summary sql.NullString
	var startedAt, status string

	if err := row.Scan(&run.ID, &run.TriggerType, &triggeredBy, &startedAt, &finishedAt, &status,
		&run.SchemaVersion, &run.AppVersion, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, err
		}
		return model.Run{}, fmt.Errorf("failed to scan run: %w", err)
	}

	var err error
	run.Status = model.RunStatus(status)
	run.TriggeredBy = stringPtr(triggeredBy)
	run.ErrorSummary = stringPtr(summary)
	if run.StartedAt, err = ParseTime(startedAt); err != nil {
		return model.Run{}, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseNullableTime(finishedAt); err != nil {
		return model.Run{}, fmt.Errorf("failed to parse finished_at: %w", err)
	}
	return run, nil
}

// InsertOutcome records the terminal outcome of one account within a run.
func (r *RunRepository) InsertOutcome(ctx context.Context, o model.RunAccountOutcome) error {
	query := `
		INSERT INTO run_account_outcome (id, run_id, account_id, outcome, category, message,
			attempts, snapshot_id, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.RunID, o.AccountID, string(o.Outcome), nullString(&o.Category), nullString(&o.Message),
		o.Attempts, nullString(o.SnapshotID), FormatTime(o.StartedAt), FormatTime(o.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to insert run outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns the outcomes of a run joined with their account identity.
func (r *RunRepository) ListOutcomes(ctx context.Context, runID string) ([]model.RunAccountOutcome, error) {
	query := `
		SELECT o.id, o.run_id, o.account_id, a.broker, a.broker_account_id, o.outcome,
			o.category, o.message, o.attempts, o.snapshot_id, o.started_at, o.finished_at
		FROM run_account_outcome o
		JOIN broker_account a ON a.id = o.account_id
		WHERE o.run_id = ?
		ORDER BY a.broker, a.broker_account_id
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []model.RunAccountOutcome{}
	for rows.Next() {
		var o model.RunAccountOutcome
		var outcome, startedAt, finishedAt string
		var category, message, snapshotID sql.NullString
		if err := rows.Scan(&o.ID, &o.RunID, &o.AccountID, &o.Broker, &o.BrokerAccountID, &outcome,
			&category, &message, &o.Attempts, &snapshotID, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run outcome: %w", err)
		}
		o.Outcome = model.OutcomeKind(outcome)
		o.Category = category.String
		o.Message = message.String
		o.SnapshotID = stringPtr(snapshotID)
		if o.StartedAt, err = ParseTime(startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		if o.FinishedAt, err = ParseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run outcome rows: %w", err)
	}
	return outcomes, nil
}
