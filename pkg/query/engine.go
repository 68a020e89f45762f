// Package query indexes a vault into SQLite and answers read-only SQL
// queries over it.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/morezero/vault-bridge/pkg/vault"
)

const logPrefix = "query:engine"

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	path        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	folder      TEXT NOT NULL,
	ext         TEXT NOT NULL,
	size        INTEGER NOT NULL,
	mtime       TEXT NOT NULL,
	frontmatter TEXT
);
CREATE TABLE IF NOT EXISTS tags (
	path TEXT NOT NULL,
	tag  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS properties (
	path  TEXT NOT NULL,
	key   TEXT NOT NULL,
	value TEXT
);
CREATE INDEX IF NOT EXISTS tags_tag ON tags(tag);
CREATE INDEX IF NOT EXISTS properties_key ON properties(key);
`

// Error is a query syntax or execution failure. Its message is meant for
// the caller as-is.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Result is a tabular query result.
type Result struct {
	Type    string   `json:"type"`
	Headers []string `json:"headers"`
	Values  [][]any  `json:"values"`
}

// Engine is a SQLite index over a vault.
type Engine struct {
	db    *sql.DB
	vault *vault.Vault

	mu sync.Mutex
}

// Open creates an Engine storing its index at dsn (":memory:" for a
// process-local index).
func Open(ctx context.Context, v *vault.Vault, dsn string) (*Engine, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s - open index: %w", logPrefix, err)
	}
	// One connection keeps a :memory: database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s - create schema: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Query index ready (%s)", logPrefix, dsn))
	return &Engine{db: db, vault: v}, nil
}

// Close releases the index.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Refresh rebuilds the index from the vault's Markdown notes.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refresh(ctx)
}

func (e *Engine) refresh(ctx context.Context) error {
	files, err := e.vault.Files()
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s - begin refresh: %w", logPrefix, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM notes", "DELETE FROM tags", "DELETE FROM properties"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s - clear index: %w", logPrefix, err)
		}
	}

	indexed := 0
	for _, f := range files {
		if path.Ext(f) != ".md" {
			continue
		}
		if err := indexNote(ctx, tx, e.vault, f); err != nil {
			slog.Warn(fmt.Sprintf("%s - skipping %s: %v", logPrefix, f, err))
			continue
		}
		indexed++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s - commit refresh: %w", logPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - Indexed %d notes", logPrefix, indexed))
	return nil
}

func indexNote(ctx context.Context, tx *sql.Tx, v *vault.Vault, p string) error {
	info, err := v.Stat(p)
	if err != nil {
		return err
	}
	fm, _, err := v.ReadFrontMatter(p)
	if err != nil {
		return err
	}
	fmJSON, err := json.Marshal(fm)
	if err != nil {
		return err
	}

	folder := path.Dir(p)
	if folder == "." {
		folder = ""
	}
	name := strings.TrimSuffix(path.Base(p), path.Ext(p))

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notes (path, name, folder, ext, size, mtime, frontmatter) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p, name, folder, strings.TrimPrefix(path.Ext(p), "."), info.Size(), info.ModTime().UTC().Format("2006-01-02T15:04:05Z"), string(fmJSON),
	); err != nil {
		return err
	}

	for key, val := range fm {
		raw, err := json.Marshal(val)
		if err != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO properties (path, key, value) VALUES (?, ?, ?)`, p, key, string(raw)); err != nil {
			return err
		}
	}

	for _, tag := range tagsOf(fm) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tags (path, tag) VALUES (?, ?)`, p, tag); err != nil {
			return err
		}
	}
	return nil
}

// tagsOf reads the "tags" property as a list or a comma/space separated
// string, dropping leading '#'.
func tagsOf(fm vault.FrontMatter) []string {
	var raw []string
	switch t := fm["tags"].(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' })
	}

	tags := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimPrefix(strings.TrimSpace(s), "#")
		if s != "" {
			tags = append(tags, s)
		}
	}
	return tags
}

// Query refreshes the index and runs q, which must be a single SELECT or
// WITH statement.
func (e *Engine) Query(ctx context.Context, q string) (any, error) {
	q = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(q), ";"))
	if q == "" {
		return nil, &Error{Message: "empty query"}
	}
	head := strings.ToUpper(strings.Fields(q)[0])
	if head != "SELECT" && head != "WITH" {
		return nil, &Error{Message: fmt.Sprintf("only SELECT queries are supported, got %s", head)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.refresh(ctx); err != nil {
		return nil, err
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, err
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF")

	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	defer rows.Close()

	headers, err := rows.Columns()
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}

	result := &Result{Type: "table", Headers: headers, Values: [][]any{}}
	for rows.Next() {
		cells := make([]any, len(headers))
		ptrs := make([]any, len(headers))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &Error{Message: err.Error()}
		}
		for i, c := range cells {
			if b, ok := c.([]byte); ok {
				cells[i] = string(b)
			}
		}
		result.Values = append(result.Values, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Message: err.Error()}
	}
	return result, nil
}

// AsError reports whether err is a query Error.
func AsError(err error) (*Error, bool) {
	var qe *Error
	ok := errors.As(err, &qe)
	return qe, ok
}
