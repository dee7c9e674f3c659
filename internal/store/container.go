/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	applog "groupstore/internal/log"
	"groupstore/internal/migrate"
	"groupstore/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

var (
	// ErrStoreMissing is returned when a read-only open finds no store file.
	ErrStoreMissing = errors.New("store: store file does not exist")
	// ErrSchemaMismatch is returned when the file holds a different schema.
	ErrSchemaMismatch = errors.New("store: schema name mismatch")
	// ErrSchemaOutdated is returned when a read-only store needs migration steps.
	ErrSchemaOutdated = errors.New("store: schema outdated")
)

// language=SQL
// dialect=SQLite
const createMetaSQL = `CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// language=SQL
// dialect=SQLite
const upsertMetaSQL = `INSERT INTO meta(key, value) VALUES(?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// language=SQL
// dialect=SQLite
const selectMetaSQL = `SELECT value FROM meta WHERE key = ?`

const (
	metaSchemaName    = "schema_name"
	metaSchemaVersion = "schema_version"
	metaSyncBackend   = "sync_backend"
	metaAppVersion    = "app_version"
	metaCreatedAt     = "created_at"
	metaUpdatedAt     = "updated_at"
)

// Container is an open store.
type Container struct {
	db     *sql.DB
	path   string
	cfg    Configuration
	schema Schema
}

// Open creates or opens the store described by cfg and brings it to schema's
// version. Read-only configurations never create or alter the file.
func Open(ctx context.Context, schema Schema, cfg Configuration) (*Container, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	path, err := cfg.Path()
	if err != nil {
		return nil, err
	}
	l := applog.WithOperation(applog.WithComponent("store"), "open").With(
		slog.String("path", path),
		slog.Bool("read_only", cfg.ReadOnly),
	)

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	if cfg.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrStoreMissing, path)
		}
		dsn += "&mode=ro"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.Error("create store dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Container{db: db, path: path, cfg: cfg, schema: schema}
	if cfg.ReadOnly {
		err = c.checkReadOnly(ctx)
	} else {
		err = c.prepare(ctx, l)
	}
	if err != nil {
		_ = db.Close()
		l.Error("store not usable", slog.Any("err", err))
		return nil, err
	}
	l.Info("store ready", slog.String("schema", schema.Name), slog.Int("version", schema.Version))
	return c, nil
}

// OpenAfterMigration runs m for the oldID -> newID move before opening the store.
// A failed copy aborts without opening anything.
func OpenAfterMigration(ctx context.Context, m *migrate.Migrator, oldID, newID migrate.Identifier, schema Schema, cfg Configuration) (*Container, migrate.Outcome, error) {
	out, err := m.RunIfNeeded(oldID, newID)
	if err != nil {
		return nil, out, err
	}
	c, err := Open(ctx, schema, cfg)
	return c, out, err
}

func (c *Container) prepare(ctx context.Context, l *slog.Logger) error {
	if _, err := c.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		l.Warn("enable foreign_keys failed", slog.Any("err", err))
	}
	if _, err := c.db.ExecContext(ctx, createMetaSQL); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	name, cur, err := c.storedSchema(ctx)
	if err != nil {
		return err
	}
	switch {
	case cur == 0:
		err = c.inTx(ctx, func(tx *sql.Tx) error {
			if err := execAll(ctx, tx, c.entityDDL()); err != nil {
				return err
			}
			return setMeta(ctx, tx, map[string]string{
				metaSchemaName:    c.schema.Name,
				metaSchemaVersion: strconv.Itoa(c.schema.Version),
				metaCreatedAt:     now,
			})
		})
		if err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	case name != c.schema.Name:
		return fmt.Errorf("%w: file has %q, want %q", ErrSchemaMismatch, name, c.schema.Name)
	case cur > c.schema.Version:
		// never downgrade; newer writers keep their layout
		l.Warn("store schema is newer than this build", slog.Int("stored", cur), slog.Int("known", c.schema.Version))
	case cur < c.schema.Version:
		if err := c.upgrade(ctx, cur, l); err != nil {
			return err
		}
	}

	meta := map[string]string{metaAppVersion: version.String(), metaUpdatedAt: now}
	if c.cfg.SyncBackendID != "" {
		meta[metaSyncBackend] = c.cfg.SyncBackendID
	}
	return c.inTx(ctx, func(tx *sql.Tx) error { return setMeta(ctx, tx, meta) })
}

// upgrade applies each migration step in its own transaction, then the
// current entity DDL so entities added since cur exist.
func (c *Container) upgrade(ctx context.Context, cur int, l *slog.Logger) error {
	for _, step := range c.schema.stepsAfter(cur) {
		err := c.inTx(ctx, func(tx *sql.Tx) error {
			if err := execAll(ctx, tx, step.Statements); err != nil {
				return err
			}
			return setMeta(ctx, tx, map[string]string{metaSchemaVersion: strconv.Itoa(step.To)})
		})
		if err != nil {
			return fmt.Errorf("migration to %d: %w", step.To, err)
		}
		l.Info("schema migrated", slog.Int("to", step.To))
	}
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if err := execAll(ctx, tx, c.entityDDL()); err != nil {
			return err
		}
		return setMeta(ctx, tx, map[string]string{metaSchemaVersion: strconv.Itoa(c.schema.Version)})
	})
	if err != nil {
		return fmt.Errorf("finish migration to %d: %w", c.schema.Version, err)
	}
	return nil
}

func (c *Container) checkReadOnly(ctx context.Context) error {
	name, cur, err := c.storedSchema(ctx)
	if err != nil {
		return err
	}
	if cur == 0 {
		return fmt.Errorf("%w: %s has no schema", ErrStoreMissing, c.path)
	}
	if name != c.schema.Name {
		return fmt.Errorf("%w: file has %q, want %q", ErrSchemaMismatch, name, c.schema.Name)
	}
	if cur < c.schema.Version {
		return fmt.Errorf("%w: stored %d, want %d", ErrSchemaOutdated, cur, c.schema.Version)
	}
	return nil
}

// storedSchema returns the recorded schema name and version, or version 0 for a fresh store.
func (c *Container) storedSchema(ctx context.Context) (string, int, error) {
	var hasMeta int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&hasMeta)
	if err != nil {
		return "", 0, fmt.Errorf("probe meta table: %w", err)
	}
	if hasMeta == 0 {
		return "", 0, nil
	}
	name, err := c.Meta(ctx, metaSchemaName)
	if err != nil {
		return "", 0, err
	}
	v, err := c.Meta(ctx, metaSchemaVersion)
	if err != nil || v == "" {
		return name, 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return "", 0, fmt.Errorf("parse schema version %q: %w", v, err)
	}
	return name, n, nil
}

// Meta returns the meta value for key, or "" when unset.
func (c *Container) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := c.db.QueryRowContext(ctx, selectMetaSQL, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, nil
}

// SchemaVersion returns the version recorded in the store.
func (c *Container) SchemaVersion(ctx context.Context) (int, error) {
	_, v, err := c.storedSchema(ctx)
	return v, err
}

// DB exposes the underlying database handle.
func (c *Container) DB() *sql.DB { return c.db }

// Configuration returns the configuration the container was opened with.
func (c *Container) Configuration() Configuration { return c.cfg }

// StorePath returns the store file path, or "" for a nil container.
func (c *Container) StorePath() string {
	if c == nil {
		return ""
	}
	return c.path
}

// PrintStorePath writes the store location line used when debugging which file an app is using.
func (c *Container) PrintStorePath(w io.Writer) {
	p := c.StorePath()
	if p == "" {
		p = "<unknown>"
	}
	_, _ = fmt.Fprintf(w, "store location: %s\n", p)
}

// Close closes the database.
func (c *Container) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Container) entityDDL() []string {
	var out []string
	for _, e := range c.schema.Entities {
		out = append(out, e.DDL...)
	}
	return out
}

func (c *Container) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts []string) error {
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec %q: %w", q, err)
		}
	}
	return nil
}

func setMeta(ctx context.Context, tx *sql.Tx, kv map[string]string) error {
	for k, v := range kv {
		if _, err := tx.ExecContext(ctx, upsertMetaSQL, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	return nil
}
