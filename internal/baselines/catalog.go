// Package baselines keeps approved shot images in a SQLite catalog, so a
// whole set of baselines travels as one file.
package baselines

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/showrunner"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Catalog is a SQLite baseline store. It implements showrunner.BaselineStore.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// Entry describes one stored baseline.
type Entry struct {
	Name      string
	Width     int
	Height    int
	Size      int // encoded PNG bytes
	UpdatedAt time.Time
}

// Open creates or opens the catalog at path.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}
	return &Catalog{db: db, now: time.Now}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Baseline returns the decoded image called name, or an error matching
// showrunner.ErrNoBaseline.
func (c *Catalog) Baseline(ctx context.Context, name string) (image.Image, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT png FROM baselines WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", showrunner.ErrNoBaseline, name)
	}
	if err != nil {
		return nil, fmt.Errorf("query baseline %s: %w", name, err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode baseline %s: %w", name, err)
	}
	return img, nil
}

// SetBaseline stores img under name, replacing any earlier image.
func (c *Catalog) SetBaseline(ctx context.Context, name string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode baseline %s: %w", name, err)
	}
	b := img.Bounds()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO baselines (name, png, width, height, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			png = excluded.png,
			width = excluded.width,
			height = excluded.height,
			updated_at = excluded.updated_at`,
		name, buf.Bytes(), b.Dx(), b.Dy(), c.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store baseline %s: %w", name, err)
	}
	return nil
}

// List returns the stored baselines whose name starts with prefix, by name.
func (c *Catalog) List(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, width, height, length(png), updated_at
		FROM baselines
		WHERE substr(name, 1, length(?)) = ?
		ORDER BY name`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("query baselines: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var updated int64
		if err := rows.Scan(&e.Name, &e.Width, &e.Height, &e.Size, &updated); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the named baselines and returns how many existed.
func (c *Catalog) Delete(ctx context.Context, names ...string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	res, err := c.db.ExecContext(ctx, `DELETE FROM baselines WHERE name IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete baselines: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
