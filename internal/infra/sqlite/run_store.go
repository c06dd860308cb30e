package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// RunStore implements [interfaces.RunStore] backed by SQLite.
type RunStore struct {
	DB *sql.DB
}

func (s *RunStore) Save(ctx context.Context, run *interfaces.DeploymentRun) error {
	snapshot, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, status, created_at, snapshot) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET status = excluded.status, snapshot = excluded.snapshot`,
		run.ID, string(run.Status), formatTime(run.CreatedAt), string(snapshot),
	); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	for _, target := range run.Targets {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO run_targets (run_id, target_id) VALUES (?, ?)`, run.ID, target,
		); err != nil {
			return fmt.Errorf("insert run target: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*interfaces.DeploymentRun, error) {
	var snapshot string
	err := s.DB.QueryRowContext(ctx, `SELECT snapshot FROM runs WHERE id = ?`, id).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.NewError(interfaces.KindNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return decodeRun(snapshot)
}

func (s *RunStore) List(ctx context.Context, filter interfaces.RunFilter) ([]*interfaces.DeploymentRun, error) {
	var where []string
	var args []any

	if len(filter.Status) > 0 {
		marks := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Target != "" {
		where = append(where, "id IN (SELECT run_id FROM run_targets WHERE target_id = ?)")
		args = append(args, filter.Target)
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.CreatedAfter))
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(filter.CreatedBefore))
	}

	query := `SELECT snapshot FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*interfaces.DeploymentRun
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run, err := decodeRun(snapshot)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *RunStore) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return interfaces.NewError(interfaces.KindNotFound, "run %q not found", id)
	}
	return nil
}

func decodeRun(snapshot string) (*interfaces.DeploymentRun, error) {
	var run interfaces.DeploymentRun
	if err := json.Unmarshal([]byte(snapshot), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	if run.Outcomes == nil {
		run.Outcomes = map[string]*interfaces.TargetOutcome{}
	}
	return &run, nil
}
