package pool

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"askdb/internal/logging"
	"askdb/internal/types"
)

// Catalog persists tenant-database metadata in its own SQLite database
// under the data directory. It is the source of truth for name→id
// resolution; the filesystem is only consulted for reconciliation.
type Catalog struct {
	db *sql.DB
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS tenant_databases (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	charset    TEXT NOT NULL DEFAULT '',
	collation  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tenant_active_name
	ON tenant_databases(owner_id, name) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_tenant_owner
	ON tenant_databases(owner_id, status);
`

// OpenCatalog opens (creating if needed) the catalog database at
// <dataDir>/catalog.db and applies the schema.
func OpenCatalog(dataDir string) (*Catalog, error) {
	path := filepath.Join(dataDir, "catalog.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.PoolDebug("failed to set catalog busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.PoolDebug("failed to set catalog journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec(catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the catalog database.
func (c *Catalog) Close() error { return c.db.Close() }

// Insert registers a new active tenant database and returns its record.
// Fails with ErrDuplicateName if an active database with the same name
// already exists for the owner.
func (c *Catalog) Insert(ctx context.Context, owner, name string, opts Options) (types.TenantDatabase, error) {
	rec := types.TenantDatabase{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Name:      name,
		Status:    types.StatusActive,
		Charset:   opts.Charset,
		Collation: opts.Collation,
		CreatedAt: time.Now().UTC(),
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO tenant_databases (id, owner_id, name, status, charset, collation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Name, string(rec.Status), rec.Charset, rec.Collation, rec.CreatedAt)
	if err != nil {
		// The partial unique index enforces one active row per (owner, name).
		if existing, lookupErr := c.ResolveName(ctx, owner, name); lookupErr == nil && existing.Status == types.StatusActive {
			return types.TenantDatabase{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		return types.TenantDatabase{}, fmt.Errorf("failed to register database %q: %w", name, err)
	}
	return rec, nil
}

// ResolveName returns the active database with the given name for the
// owner, or ErrDatabaseNotFound.
func (c *Catalog) ResolveName(ctx context.Context, owner, name string) (types.TenantDatabase, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, status, charset, collation, created_at
		 FROM tenant_databases WHERE owner_id = ? AND name = ? AND status = 'active'`,
		owner, name)
	return scanTenant(row)
}

// ResolveID returns the active database with the given id for the owner,
// or ErrDatabaseNotFound.
func (c *Catalog) ResolveID(ctx context.Context, owner, id string) (types.TenantDatabase, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, status, charset, collation, created_at
		 FROM tenant_databases WHERE owner_id = ? AND id = ? AND status = 'active'`,
		owner, id)
	return scanTenant(row)
}

// ListActive returns all active databases for the owner, oldest first.
func (c *Catalog) ListActive(ctx context.Context, owner string) ([]types.TenantDatabase, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, owner_id, name, status, charset, collation, created_at
		 FROM tenant_databases WHERE owner_id = ? AND status = 'active' ORDER BY created_at`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	defer rows.Close()

	var out []types.TenantDatabase
	for rows.Next() {
		var rec types.TenantDatabase
		var status string
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &status, &rec.Charset, &rec.Collation, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan database record: %w", err)
		}
		rec.Status = types.DatabaseStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkDropped flips the active record for (owner, name) to dropped.
// Idempotent: no matching active record is not an error.
func (c *Catalog) MarkDropped(ctx context.Context, owner, name string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE tenant_databases SET status = 'dropped'
		 WHERE owner_id = ? AND name = ? AND status = 'active'`,
		owner, name)
	if err != nil {
		return fmt.Errorf("failed to mark database %q dropped: %w", name, err)
	}
	return nil
}

func scanTenant(row *sql.Row) (types.TenantDatabase, error) {
	var rec types.TenantDatabase
	var status string
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &status, &rec.Charset, &rec.Collation, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return types.TenantDatabase{}, ErrDatabaseNotFound
	}
	if err != nil {
		return types.TenantDatabase{}, fmt.Errorf("failed to scan database record: %w", err)
	}
	rec.Status = types.DatabaseStatus(status)
	return rec, nil
}
