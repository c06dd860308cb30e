package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// TargetStore implements [interfaces.TargetStore] backed by SQLite.
type TargetStore struct {
	DB *sql.DB
}

const targetColumns = `id, definition, lifecycle, current_artifact, previous_artifact, active_run, revision, updated_at`

func (s *TargetStore) Put(ctx context.Context, target interfaces.Target) (*interfaces.TargetRecord, error) {
	def, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("marshal target: %w", err)
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO targets (id, definition, lifecycle, revision, updated_at) VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   definition = excluded.definition,
		   revision = targets.revision + 1,
		   updated_at = excluded.updated_at`,
		target.ID, string(def), string(interfaces.LifecycleUnknown), formatTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert target: %w", err)
	}
	return s.Get(ctx, target.ID)
}

func (s *TargetStore) Get(ctx context.Context, id string) (*interfaces.TargetRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)
	rec, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.NewError(interfaces.KindNotFound, "target %q not found", id)
	}
	return rec, err
}

func (s *TargetStore) List(ctx context.Context, selector interfaces.Selector) ([]*interfaces.TargetRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var records []*interfaces.TargetRecord
	for rows.Next() {
		rec, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		if selector.Matches(rec.Target) {
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Target.ID < records[j].Target.ID })
	return records, nil
}

func (s *TargetStore) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if n == 0 {
		return interfaces.NewError(interfaces.KindNotFound, "target %q not found", id)
	}
	return nil
}

func (s *TargetStore) Swap(ctx context.Context, record *interfaces.TargetRecord, expectedRevision int64) (*interfaces.TargetRecord, error) {
	def, err := json.Marshal(record.Target)
	if err != nil {
		return nil, fmt.Errorf("marshal target: %w", err)
	}

	row := s.DB.QueryRowContext(ctx,
		`UPDATE targets SET
		   definition = ?, lifecycle = ?, current_artifact = ?, previous_artifact = ?,
		   active_run = ?, revision = revision + 1, updated_at = ?
		 WHERE id = ? AND revision = ?
		 RETURNING `+targetColumns,
		string(def), string(record.Lifecycle), record.CurrentArtifact, record.PreviousArtifact,
		record.ActiveRun, formatTime(time.Now()), record.Target.ID, expectedRevision,
	)
	swapped, err := scanTarget(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.Get(ctx, record.Target.ID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("target %q at revision %d: %w", record.Target.ID, expectedRevision, interfaces.ErrRevisionConflict)
	case err != nil:
		return nil, fmt.Errorf("swap target: %w", err)
	}
	return swapped, nil
}

func scanTarget(s scanner) (*interfaces.TargetRecord, error) {
	var rec interfaces.TargetRecord
	var id, def, lifecycle, updated string
	if err := s.Scan(&id, &def, &lifecycle, &rec.CurrentArtifact, &rec.PreviousArtifact,
		&rec.ActiveRun, &rec.Revision, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan target: %w", err)
	}
	if err := json.Unmarshal([]byte(def), &rec.Target); err != nil {
		return nil, fmt.Errorf("unmarshal target %q: %w", id, err)
	}
	rec.Lifecycle = interfaces.Lifecycle(lifecycle)
	t, err := parseTime(updated)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = t
	return &rec, nil
}
