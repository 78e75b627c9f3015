// Package pool owns the lifecycle of per-tenant database handles: it
// provisions and drops tenant databases, pools one live handle per
// (owner, name) key, executes single and batched statements, and
// introspects schema. Handles are never shared across owners.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"askdb/internal/logging"
	"askdb/internal/types"
)

// identifier grammar: starts with letter/underscore, then alphanumeric,
// underscore or dollar, max 64 chars.
var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// Options carries optional database creation settings.
type Options struct {
	Charset   string
	Collation string
}

// Row is one result row keyed by column name.
type Row = map[string]any

// Result is the outcome of a single statement execution.
type Result struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         []Row    `json:"rows,omitempty"`
	AffectedRows int64    `json:"affected_rows"`
	InsertID     int64    `json:"insert_id,omitempty"`
}

// StatementResult pairs a batch statement with its result.
type StatementResult struct {
	Statement string  `json:"statement"`
	Result    *Result `json:"result"`
}

// Stats reports storage-level figures for one tenant database.
type Stats struct {
	DatabaseName string  `json:"database_name"`
	SizeMB       float64 `json:"size_mb"`
	TableCount   int     `json:"table_count"`
}

// Manager pools one handle per (owner, name) key. Creation for a key is
// collapsed through singleflight so concurrent callers share a single
// open; different keys proceed in parallel.
type Manager struct {
	dataDir string
	catalog *Catalog
	maxRows int

	mu      sync.RWMutex
	handles map[string]*sql.DB
	group   singleflight.Group
}

// NewManager opens the catalog under dataDir and returns a Manager ready
// to serve tenant handles.
func NewManager(dataDir string, maxRows int) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "tenants"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	catalog, err := OpenCatalog(dataDir)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Manager{
		dataDir: dataDir,
		catalog: catalog,
		maxRows: maxRows,
		handles: make(map[string]*sql.DB),
	}, nil
}

// Catalog exposes the metadata catalog for resolution by the dispatcher.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// ValidName reports whether name satisfies the identifier grammar.
func ValidName(name string) bool {
	return len(name) <= 64 && nameRe.MatchString(name)
}

func validOwner(owner string) bool {
	return owner != "" && !strings.ContainsAny(owner, `/\.`)
}

func key(owner, name string) string { return owner + "/" + name }

func (m *Manager) dbPath(owner, name string) string {
	return filepath.Join(m.dataDir, "tenants", owner, name+".db")
}

// CreateDatabase provisions a new tenant database: registers it in the
// catalog and creates the backing store. Fails with ErrDuplicateName if
// the owner already has an active database of that name, ErrInvalidName
// if the name violates the identifier grammar.
func (m *Manager) CreateDatabase(ctx context.Context, owner, name string, opts Options) (types.TenantDatabase, error) {
	if !validOwner(owner) {
		return types.TenantDatabase{}, ErrInvalidOwner
	}
	if !ValidName(name) {
		return types.TenantDatabase{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	rec, err := m.catalog.Insert(ctx, owner, name, opts)
	if err != nil {
		return types.TenantDatabase{}, err
	}

	if err := os.MkdirAll(filepath.Join(m.dataDir, "tenants", owner), 0o755); err != nil {
		_ = m.catalog.MarkDropped(ctx, owner, name)
		return types.TenantDatabase{}, fmt.Errorf("failed to create tenant directory: %w", err)
	}

	// Opening through Get both creates the file and registers the handle.
	if _, err := m.Get(ctx, owner, name); err != nil {
		_ = m.catalog.MarkDropped(ctx, owner, name)
		return types.TenantDatabase{}, err
	}

	logging.Pool("created database %s/%s (id=%s)", owner, name, rec.ID)
	return rec, nil
}

// Get returns the pooled handle for (owner, name), opening one if absent.
// Safe under concurrent calls for the same key: exactly one handle is
// created even when callers race.
func (m *Manager) Get(ctx context.Context, owner, name string) (*sql.DB, error) {
	if !validOwner(owner) {
		return nil, ErrInvalidOwner
	}
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	k := key(owner, name)
	m.mu.RLock()
	if db, ok := m.handles[k]; ok {
		m.mu.RUnlock()
		return db, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.group.Do(k, func() (any, error) {
		// Re-check under the flight: a racing caller may have registered
		// the handle between the read-lock and here.
		m.mu.RLock()
		if db, ok := m.handles[k]; ok {
			m.mu.RUnlock()
			return db, nil
		}
		m.mu.RUnlock()

		db, err := m.open(ctx, owner, name)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.handles[k] = db
		m.mu.Unlock()
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

// open establishes a handle with one retry after backoff. Repeated
// failure surfaces ErrConnection and leaves nothing registered.
func (m *Manager) open(ctx context.Context, owner, name string) (*sql.DB, error) {
	path := m.dbPath(owner, name)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(250 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			logging.PoolDebug("failed to set busy_timeout on %s/%s: %v", owner, name, err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			logging.PoolDebug("failed to set journal_mode=WAL on %s/%s: %v", owner, name, err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			lastErr = err
			continue
		}
		logging.PoolDebug("opened handle for %s/%s", owner, name)
		return db, nil
	}
	logging.PoolError("failed to open %s/%s after retry: %v", owner, name, lastErr)
	return nil, fmt.Errorf("%w: %s: %v", ErrConnection, name, lastErr)
}

// evict closes and removes the pooled handle for the key, if present.
func (m *Manager) evict(owner, name string) {
	k := key(owner, name)
	m.mu.Lock()
	db, ok := m.handles[k]
	if ok {
		delete(m.handles, k)
	}
	m.mu.Unlock()
	if ok {
		db.Close()
		logging.Pool("evicted handle for %s/%s", owner, name)
	}
}

// Execute runs a single statement against the owner's database. The
// database must exist in the catalog; executing against a dropped name
// fails with ErrDatabaseNotFound rather than silently reusing a stale
// handle. On a connection-level failure the handle is evicted so the
// next call re-opens.
func (m *Manager) Execute(ctx context.Context, owner, name, stmt string, params ...any) (*Result, error) {
	if _, err := m.catalog.ResolveName(ctx, owner, name); err != nil {
		return nil, err
	}
	db, err := m.Get(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	res, err := m.run(ctx, db, stmt, params...)
	if err != nil {
		if isConnErr(err) {
			m.evict(owner, name)
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
		return nil, &QueryExecutionError{Statement: stmt, Err: err}
	}
	return res, nil
}

// ExecuteBatch runs statements in order against one handle, stopping at
// the first failure. The returned slice covers every statement that
// completed; the error identifies the failing statement. Statements are
// not wrapped in a transaction: prior statements stay committed.
func (m *Manager) ExecuteBatch(ctx context.Context, owner, name string, statements []string) ([]StatementResult, error) {
	if _, err := m.catalog.ResolveName(ctx, owner, name); err != nil {
		return nil, err
	}
	db, err := m.Get(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	results := make([]StatementResult, 0, len(statements))
	for i, stmt := range statements {
		res, err := m.run(ctx, db, stmt)
		if err != nil {
			if isConnErr(err) {
				m.evict(owner, name)
			}
			return results, &QueryExecutionError{Statement: stmt, Index: i, Err: err}
		}
		results = append(results, StatementResult{Statement: stmt, Result: res})
	}
	return results, nil
}

// run dispatches a statement through Query or Exec depending on whether
// it produces rows.
func (m *Manager) run(ctx context.Context, db *sql.DB, stmt string, params ...any) (*Result, error) {
	if returnsRows(stmt) {
		return m.query(ctx, db, stmt, params...)
	}
	res, err := db.ExecContext(ctx, stmt, params...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	insertID, _ := res.LastInsertId()
	return &Result{AffectedRows: affected, InsertID: insertID}, nil
}

func (m *Manager) query(ctx context.Context, db *sql.DB, stmt string, params ...any) (*Result, error) {
	rows, err := db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &Result{Columns: cols}
	for rows.Next() {
		if len(out.Rows) >= m.maxRows {
			logging.PoolWarn("result truncated at %d rows", m.maxRows)
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}

// DropDatabase closes and evicts the pooled handle, removes the backing
// store, and marks the catalog record dropped. Idempotent when the
// database is already absent.
func (m *Manager) DropDatabase(ctx context.Context, owner, name string) error {
	if !validOwner(owner) {
		return ErrInvalidOwner
	}
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	m.evict(owner, name)

	if err := os.Remove(m.dbPath(owner, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove database file: %w", err)
	}
	// WAL sidecar files, if any.
	_ = os.Remove(m.dbPath(owner, name) + "-wal")
	_ = os.Remove(m.dbPath(owner, name) + "-shm")

	if err := m.catalog.MarkDropped(ctx, owner, name); err != nil {
		return err
	}
	logging.Pool("dropped database %s/%s", owner, name)
	return nil
}

// ListDatabases enumerates the owner's databases at the storage level,
// not the catalog. Used for reconciliation and the list action.
func (m *Manager) ListDatabases(owner string) ([]string, error) {
	if !validOwner(owner) {
		return nil, ErrInvalidOwner
	}
	entries, err := os.ReadDir(filepath.Join(m.dataDir, "tenants", owner))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".db"))
	}
	return names, nil
}

// DatabaseStats reports file size and table count for one database.
func (m *Manager) DatabaseStats(ctx context.Context, owner, name string) (*Stats, error) {
	if _, err := m.catalog.ResolveName(ctx, owner, name); err != nil {
		return nil, err
	}
	db, err := m.Get(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	var count int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`).Scan(&count)
	if err != nil {
		return nil, &QueryExecutionError{Statement: "table count", Err: err}
	}

	var sizeMB float64
	if info, err := os.Stat(m.dbPath(owner, name)); err == nil {
		sizeMB = float64(info.Size()) / (1024 * 1024)
	}
	return &Stats{DatabaseName: name, SizeMB: sizeMB, TableCount: count}, nil
}

// Close closes every pooled handle and the catalog.
func (m *Manager) Close() error {
	m.mu.Lock()
	for k, db := range m.handles {
		db.Close()
		delete(m.handles, k)
	}
	m.mu.Unlock()
	return m.catalog.Close()
}

// returnsRows reports whether the statement's leading keyword produces a
// result set.
func returnsRows(stmt string) bool {
	kw := leadingKeyword(stmt)
	switch kw {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES":
		return true
	}
	return false
}

func leadingKeyword(stmt string) string {
	s := strings.TrimSpace(stmt)
	if i := strings.IndexAny(s, " \t\r\n("); i > 0 {
		s = s[:i]
	}
	return strings.ToUpper(s)
}

// isConnErr classifies driver failures that invalidate the handle.
func isConnErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"unable to open database file",
		"database disk image is malformed",
		"database is closed",
		"bad connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
