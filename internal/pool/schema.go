package pool

import (
	"context"
	"database/sql"
	"fmt"
)

// ColumnInfo describes one table column.
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	Default    any    `json:"default,omitempty"`
	PrimaryKey bool   `json:"primary_key"`
}

// IndexInfo describes one index on a table.
type IndexInfo struct {
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Columns []string `json:"columns"`
}

// TableSchema is the full introspection result for one table, including
// up to three sample rows for prompt context.
type TableSchema struct {
	Name            string       `json:"name"`
	Columns         []ColumnInfo `json:"columns"`
	Indexes         []IndexInfo  `json:"indexes"`
	CreateStatement string       `json:"create_statement"`
	SampleRows      []Row        `json:"sample_rows,omitempty"`
}

// Schema is the complete introspection result for one database.
type Schema struct {
	DatabaseName string        `json:"database_name"`
	Tables       []TableSchema `json:"tables"`
}

// IntrospectSchema enumerates user tables, then per table collects column
// metadata, indexes, the canonical creation statement, and sample rows.
func (m *Manager) IntrospectSchema(ctx context.Context, owner, name string) (*Schema, error) {
	if _, err := m.catalog.ResolveName(ctx, owner, name); err != nil {
		return nil, err
	}
	db, err := m.Get(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT name, sql FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, &QueryExecutionError{Statement: "table enumeration", Err: err}
	}
	defer rows.Close()

	schema := &Schema{DatabaseName: name}
	var tables []struct{ name, create string }
	for rows.Next() {
		var t struct{ name, create string }
		var create sql.NullString
		if err := rows.Scan(&t.name, &create); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		t.create = create.String
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range tables {
		ts := TableSchema{Name: t.name, CreateStatement: t.create}

		if ts.Columns, err = m.tableColumns(ctx, db, t.name); err != nil {
			return nil, err
		}
		if ts.Indexes, err = m.tableIndexes(ctx, db, t.name); err != nil {
			return nil, err
		}

		// Sample rows are best effort; a read failure never fails the
		// whole introspection.
		if sample, err := m.query(ctx, db, fmt.Sprintf("SELECT * FROM %q LIMIT 3", t.name)); err == nil {
			ts.SampleRows = sample.Rows
		}

		schema.Tables = append(schema.Tables, ts)
	}
	return schema, nil
}

func (m *Manager) tableColumns(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, &QueryExecutionError{Statement: "table_info " + table, Err: err}
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var cid, notNull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info for %s: %w", table, err)
		}
		col := ColumnInfo{Name: name, Type: ctype, NotNull: notNull != 0, PrimaryKey: pk != 0}
		if dflt.Valid {
			col.Default = dflt.String
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (m *Manager) tableIndexes(ctx context.Context, db *sql.DB, table string) ([]IndexInfo, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%q)", table))
	if err != nil {
		return nil, &QueryExecutionError{Statement: "index_list " + table, Err: err}
	}

	var idx []IndexInfo
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan index list for %s: %w", table, err)
		}
		idx = append(idx, IndexInfo{Name: name, Unique: unique != 0})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range idx {
		cols, err := m.indexColumns(ctx, db, idx[i].Name)
		if err != nil {
			return nil, err
		}
		idx[i].Columns = cols
	}
	return idx, nil
}

func (m *Manager) indexColumns(ctx context.Context, db *sql.DB, index string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%q)", index))
	if err != nil {
		return nil, &QueryExecutionError{Statement: "index_info " + index, Err: err}
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("failed to scan index info for %s: %w", index, err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}
