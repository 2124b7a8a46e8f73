package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"caliban/internal/registry"
)

// GetOrCreateExperiment returns the experiment identified by
// (group, container, moduleSpec, args, kwargs), creating it if missing. Args
// and kwargs are serialized canonically so identical tuples hit the same row.
func (s *Store) GetOrCreateExperiment(ctx context.Context, group *registry.ExperimentGroup, container *registry.Container, moduleSpec string, args []string, kwargs []registry.KV) (*registry.Experiment, error) {
	argsJSON, err := json.Marshal(orEmpty(args))
	if err != nil {
		return nil, err
	}
	if kwargs == nil {
		kwargs = []registry.KV{}
	}
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		return nil, err
	}

	var exp registry.Experiment
	err = s.withTx(ctx, "get_or_create_experiment", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, group_id, container_id, module_spec, args, kwargs, created_at
			 FROM experiments
			 WHERE group_id = ? AND container_id = ? AND module_spec = ? AND args = ? AND kwargs = ?`,
			group.ID, container.ID, moduleSpec, string(argsJSON), string(kwargsJSON))
		if err := scanExperiment(row, &exp); err == nil {
			return nil
		} else if err != sql.ErrNoRows {
			return err
		}

		exp = registry.Experiment{
			GroupID:     group.ID,
			ContainerID: container.ID,
			ModuleSpec:  moduleSpec,
			Args:        args,
			Kwargs:      kwargs,
			CreatedAt:   time.Now().UTC(),
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO experiments (group_id, container_id, module_spec, args, kwargs, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			exp.GroupID, exp.ContainerID, exp.ModuleSpec, string(argsJSON), string(kwargsJSON), exp.CreatedAt)
		if err != nil {
			return err
		}
		exp.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// ExperimentByID fetches one experiment row.
func (s *Store) ExperimentByID(ctx context.Context, id int64) (*registry.Experiment, error) {
	var exp registry.Experiment
	row := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, container_id, module_spec, args, kwargs, created_at
		 FROM experiments WHERE id = ?`, id)
	if err := scanExperiment(row, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner, exp *registry.Experiment) error {
	var argsJSON, kwargsJSON string
	if err := row.Scan(&exp.ID, &exp.GroupID, &exp.ContainerID, &exp.ModuleSpec, &argsJSON, &kwargsJSON, &exp.CreatedAt); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(argsJSON), &exp.Args); err != nil {
		return err
	}
	return json.Unmarshal([]byte(kwargsJSON), &exp.Kwargs)
}
