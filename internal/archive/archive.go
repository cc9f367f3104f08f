// Package archive keeps an offline record of finished experiments in
// SQLite.
//
// The archive is written from the event bus and read only by the
// /archive HTTP routes. The scheduler never loads from it.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/colourlab-core/internal/experiment"
)

// ErrNotFound is returned when no archived experiment has the given id.
var ErrNotFound = errors.New("archive: experiment not found")

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Record is one archived experiment.
type Record struct {
	experiment.Snapshot
	ArchivedAt time.Time                 `json:"archived_at"`
	Actions    []experiment.ActionRecord `json:"action_log,omitempty"`
}

// Filter selects archived experiments.
type Filter struct {
	Status   experiment.Status
	Strategy string
	Limit    int // default 50, max 500
	Offset   int
}

// ListResult is a page of archived experiments, newest first.
type ListResult struct {
	Experiments []Record `json:"experiments"`
	Total       int      `json:"total"`
	Limit       int      `json:"limit"`
	Offset      int      `json:"offset"`
}

// Repository stores and queries archived experiments.
type Repository interface {
	Save(ctx context.Context, snap experiment.Snapshot, actions []experiment.ActionRecord) error
	AppendAction(ctx context.Context, rec experiment.ActionRecord) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository implements Repository on the experiments and
// experiment_actions tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Save writes a finished experiment and its actions in one transaction.
// Saving the same id again replaces the experiment row and keeps existing
// actions.
func (r *SQLiteRepository) Save(ctx context.Context, snap experiment.Snapshot, actions []experiment.ActionRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting archive transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var optimal [3]any
	var bestLoss any
	if snap.Result != nil {
		for i, v := range snap.Result.OptimalParams {
			optimal[i] = v
		}
		bestLoss = snap.Result.BestLoss
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO experiments (
			id, strategy, status, target_r, target_g, target_b, n_calls,
			iterations_completed, optimal_r, optimal_g, optimal_b, best_loss,
			error, abandoned, started_at, ended_at, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			iterations_completed = excluded.iterations_completed,
			optimal_r = excluded.optimal_r,
			optimal_g = excluded.optimal_g,
			optimal_b = excluded.optimal_b,
			best_loss = excluded.best_loss,
			error = excluded.error,
			abandoned = excluded.abandoned,
			ended_at = excluded.ended_at,
			archived_at = excluded.archived_at`,
		snap.ID, snap.Strategy, string(snap.Status),
		snap.Target[0], snap.Target[1], snap.Target[2], snap.Budget,
		snap.IterationsCompleted, optimal[0], optimal[1], optimal[2], bestLoss,
		nullableString(snap.Error), boolInt(snap.Abandoned),
		formatTime(snap.StartedAt), formatTime(snap.EndedAt),
		r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting archived experiment: %w", err)
	}

	for _, rec := range actions {
		if err := insertAction(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archived experiment: %w", err)
	}
	return nil
}

// AppendAction adds one action to an already archived experiment.
func (r *SQLiteRepository) AppendAction(ctx context.Context, rec experiment.ActionRecord) error {
	return insertAction(ctx, r.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAction(ctx context.Context, db execer, rec experiment.ActionRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshalling action %d: %w", rec.Seq, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO experiment_actions (experiment_id, seq, id, type, data, timestamp, late)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ExperimentID, rec.Seq, rec.ID, string(rec.Type), string(data),
		rec.Timestamp.UTC().Format(time.RFC3339Nano), boolInt(rec.Late),
	)
	if err != nil {
		return fmt.Errorf("inserting action %d: %w", rec.Seq, err)
	}
	return nil
}

const selectColumns = `id, strategy, status, target_r, target_g, target_b, n_calls,
	iterations_completed, optimal_r, optimal_g, optimal_b, best_loss,
	error, abandoned, started_at, ended_at, archived_at`

// Get returns one archived experiment with its action log.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM experiments WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	actions, err := r.actions(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Actions = actions
	return rec, nil
}

func (r *SQLiteRepository) actions(ctx context.Context, id string) ([]experiment.ActionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT seq, id, type, data, timestamp, late FROM experiment_actions WHERE experiment_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()

	actions := []experiment.ActionRecord{}
	for rows.Next() {
		var a experiment.ActionRecord
		var typ, data, ts string
		var late int
		if err := rows.Scan(&a.Seq, &a.ID, &typ, &data, &ts, &late); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		a.ExperimentID = id
		a.Type = experiment.ActionType(typ)
		a.Data = json.RawMessage(data)
		a.Late = late != 0
		if a.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing action timestamp %q: %w", ts, err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actions: %w", err)
	}
	return actions, nil
}

// List returns archived experiments matching filter, most recently ended
// first. Action logs are not included.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Strategy != "" {
		conditions = append(conditions, "strategy = ?")
		args = append(args, filter.Strategy)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM experiments " + where //nolint:gosec // WHERE built from placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting archived experiments: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM experiments " + where + //nolint:gosec // WHERE built from placeholders only
		" ORDER BY ended_at DESC, id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying archived experiments: %w", err)
	}
	defer rows.Close()

	result := &ListResult{Experiments: []Record{}, Total: total, Limit: filter.Limit, Offset: filter.Offset}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result.Experiments = append(result.Experiments, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archived experiments: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var status string
	var optR, optG, optB sql.NullInt64
	var bestLoss sql.NullFloat64
	var errText, startedAt, endedAt sql.NullString
	var abandoned int
	var archivedAt string

	err := s.Scan(&rec.ID, &rec.Strategy, &status,
		&rec.Target[0], &rec.Target[1], &rec.Target[2], &rec.Budget,
		&rec.IterationsCompleted, &optR, &optG, &optB, &bestLoss,
		&errText, &abandoned, &startedAt, &endedAt, &archivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning archived experiment: %w", err)
	}

	rec.Status = experiment.Status(status)
	rec.Error = errText.String
	rec.Abandoned = abandoned != 0
	if rec.Budget > 0 {
		rec.Progress = float64(rec.IterationsCompleted) / float64(rec.Budget)
	}
	if optR.Valid && optG.Valid && optB.Valid && bestLoss.Valid {
		rec.Result = &experiment.Result{
			OptimalParams: experiment.Candidate{int(optR.Int64), int(optG.Int64), int(optB.Int64)},
			BestLoss:      bestLoss.Float64,
		}
	}
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if rec.EndedAt, err = parseTime(endedAt); err != nil {
		return nil, err
	}
	if rec.ArchivedAt, err = time.Parse(time.RFC3339Nano, archivedAt); err != nil {
		return nil, fmt.Errorf("parsing archived_at %q: %w", archivedAt, err)
	}
	return &rec, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
