package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"caliban/internal/registry"
)

// GetOrCreateContainer returns the container row for imageRef, creating it if
// missing. The image reference is the sole identity key; mode and context are
// recorded from the first invocation that produced the image.
func (s *Store) GetOrCreateContainer(ctx context.Context, imageRef string, mode registry.Mode, buildContextPath string, extraDirs []string) (*registry.Container, error) {
	dirsJSON, err := json.Marshal(orEmpty(extraDirs))
	if err != nil {
		return nil, err
	}

	var c registry.Container
	err = s.withTx(ctx, "get_or_create_container", func(tx *sql.Tx) error {
		if err := scanContainer(tx.QueryRowContext(ctx,
			`SELECT id, image_reference, mode, build_context_path, extra_dirs, created_at
			 FROM containers WHERE image_reference = ?`, imageRef), &c); err == nil {
			return nil
		} else if err != sql.ErrNoRows {
			return err
		}

		c = registry.Container{
			ImageReference:   imageRef,
			Mode:             mode,
			BuildContextPath: buildContextPath,
			ExtraDirs:        extraDirs,
			CreatedAt:        time.Now().UTC(),
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO containers (image_reference, mode, build_context_path, extra_dirs, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			c.ImageReference, string(c.Mode), c.BuildContextPath, string(dirsJSON), c.CreatedAt)
		if err != nil {
			return err
		}
		c.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ContainerByID fetches one container row.
func (s *Store) ContainerByID(ctx context.Context, id int64) (*registry.Container, error) {
	var c registry.Container
	err := scanContainer(s.db.QueryRowContext(ctx,
		`SELECT id, image_reference, mode, build_context_path, extra_dirs, created_at
		 FROM containers WHERE id = ?`, id), &c)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanContainer(row *sql.Row, c *registry.Container) error {
	var mode, dirsJSON string
	if err := row.Scan(&c.ID, &c.ImageReference, &mode, &c.BuildContextPath, &dirsJSON, &c.CreatedAt); err != nil {
		return err
	}
	c.Mode = registry.Mode(mode)
	return json.Unmarshal([]byte(dirsJSON), &c.ExtraDirs)
}

// orEmpty keeps JSON serialization canonical: nil and empty both encode as [].
func orEmpty(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
