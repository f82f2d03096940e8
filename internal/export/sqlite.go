package export

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteWriter stores snapshots in a SQLite database. Each Write replaces
// the previous contents, so the file always reflects the last build.
type SQLiteWriter struct {
	db        *sql.DB
	tx        *sql.Tx
	stmtNode  *sql.Stmt
	stmtLink  *sql.Stmt
	stmtError *sql.Stmt
	mu        sync.Mutex
}

// NewSQLiteWriter opens dbPath and creates the schema.
func NewSQLiteWriter(dbPath string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS nodes (
		name TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		required INTEGER NOT NULL,
		record JSON
	);

	CREATE TABLE IF NOT EXISTS links (
		source TEXT NOT NULL,
		requirement TEXT NOT NULL,
		target TEXT NOT NULL,
		capability TEXT NOT NULL,
		type TEXT NOT NULL,
		template TEXT,
		PRIMARY KEY (source, requirement)
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS errors (
		seq INTEGER PRIMARY KEY,
		message TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteWriter{db: db}, nil
}

func (w *SQLiteWriter) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	for _, table := range []string{"meta", "nodes", "links", "errors"} {
		if _, err := w.tx.Exec("DELETE FROM " + table); err != nil {
			_ = w.tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	w.stmtNode, err = w.tx.Prepare(`INSERT OR REPLACE INTO nodes (name, type, required, record) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = w.tx.Rollback()
		return err
	}
	w.stmtLink, err = w.tx.Prepare(`
		INSERT OR REPLACE INTO links (source, requirement, target, capability, type, template)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = w.tx.Rollback()
		return err
	}
	w.stmtError, err = w.tx.Prepare(`INSERT INTO errors (seq, message) VALUES (?, ?)`)
	if err != nil {
		_ = w.tx.Rollback()
	}
	return err
}

func (w *SQLiteWriter) commitTx() error {
	for _, stmt := range []*sql.Stmt{w.stmtNode, w.stmtLink, w.stmtError} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	w.stmtNode, w.stmtLink, w.stmtError = nil, nil, nil
	return w.tx.Commit()
}

// Write replaces the database contents with s in one transaction. Rows
// that fail to insert are logged and skipped.
func (w *SQLiteWriter) Write(s *Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.beginTx(); err != nil {
		return fmt.Errorf("begin export: %w", err)
	}

	meta := map[string]string{
		"id":     s.ID,
		"path":   s.Path,
		"passes": strconv.Itoa(s.Passes),
	}
	if len(s.Outputs) > 0 {
		out, err := json.Marshal(s.Outputs)
		if err != nil {
			log.Printf("SQLiteWriter: outputs not encodable: %v", err)
		} else {
			meta["outputs"] = string(out)
		}
	}
	for k, v := range meta {
		if _, err := w.tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			log.Printf("SQLiteWriter: meta %s failed: %v", k, err)
		}
	}

	for _, n := range s.Nodes {
		record, err := json.Marshal(n)
		if err != nil {
			log.Printf("SQLiteWriter: encode failed for %s: %v", n.Name, err)
			record = nil
		}
		if _, err := w.stmtNode.Exec(n.Name, n.Type, n.Required, record); err != nil {
			log.Printf("SQLiteWriter: insert failed for %s: %v", n.Name, err)
		}
	}

	for _, l := range s.Links {
		var tmpl *string
		if l.Template != "" {
			tmpl = &l.Template
		}
		if _, err := w.stmtLink.Exec(l.Source, l.Requirement, l.Target, l.Capability, l.Type, tmpl); err != nil {
			log.Printf("SQLiteWriter: insert failed for %s::%s: %v", l.Source, l.Requirement, err)
		}
	}

	for i, msg := range s.Errors {
		if _, err := w.stmtError.Exec(i, msg); err != nil {
			log.Printf("SQLiteWriter: insert failed for error %d: %v", i, err)
		}
	}

	if err := w.commitTx(); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for queries.
func (w *SQLiteWriter) DB() *sql.DB { return w.db }

func (w *SQLiteWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.db.Exec(`CREATE INDEX IF NOT EXISTS idx_links_target ON links(target, capability)`); err != nil {
		log.Printf("SQLiteWriter: index creation failed: %v", err)
	}
	return w.db.Close()
}
