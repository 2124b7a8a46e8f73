package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"time"

	"caliban/internal/registry"
)

// GetOrCreateGroup returns the group named name, creating it on first
// reference. An empty name gets a generated <user>-xgroup-<timestamp> name.
func (s *Store) GetOrCreateGroup(ctx context.Context, name string) (*registry.ExperimentGroup, error) {
	if name == "" {
		name = defaultGroupName(time.Now().UTC())
	}

	var group registry.ExperimentGroup
	err := s.withTx(ctx, "get_or_create_group", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, name, created_at FROM experiment_groups WHERE name = ?`, name)
		err := row.Scan(&group.ID, &group.Name, &group.CreatedAt)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}

		group.Name = name
		group.CreatedAt = time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO experiment_groups (name, created_at) VALUES (?, ?)`,
			group.Name, group.CreatedAt)
		if err != nil {
			return err
		}
		group.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// GroupByID fetches one group row.
func (s *Store) GroupByID(ctx context.Context, id int64) (*registry.ExperimentGroup, error) {
	var group registry.ExperimentGroup
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM experiment_groups WHERE id = ?`, id).
		Scan(&group.ID, &group.Name, &group.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func defaultGroupName(now time.Time) string {
	username := "caliban"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	return fmt.Sprintf("%s-xgroup-%s", username, now.Format("2006-01-02-15-04-05"))
}
