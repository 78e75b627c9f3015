package chat

import (
	"fmt"
	"regexp"
	"strings"

	"askdb/internal/types"
)

// Action is one validated, fully-typed database action. Exactly one of
// the five concrete types comes out of ParseAction; nothing loosely typed
// crosses into the dispatcher.
type Action interface {
	Type() types.ActionType
}

// CreateDatabaseAction provisions a new tenant database, optionally with
// an inline list of table definitions.
type CreateDatabaseAction struct {
	Name        string
	Description string
	Tables      []TableDef
}

func (CreateDatabaseAction) Type() types.ActionType { return types.ActionCreateDatabase }

// TableDef is one inline table definition carried by create_database.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// ColumnDef is one column in an inline table definition.
type ColumnDef struct {
	Name        string
	Type        string
	Constraints string
}

// CreateSQL renders the table definition as a CREATE TABLE statement.
func (t TableDef) CreateSQL() string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		col := c.Name + " " + c.Type
		if c.Constraints != "" {
			col += " " + c.Constraints
		}
		cols[i] = col
	}
	return "CREATE TABLE " + t.Name + " (" + strings.Join(cols, ", ") + ")"
}

// ExecuteQueryAction runs one SQL statement against a target database.
// Exactly one of DatabaseID/DatabaseName may be set; both empty means
// the target must come from conversation context.
type ExecuteQueryAction struct {
	SQL          string
	DatabaseID   string
	DatabaseName string
}

func (ExecuteQueryAction) Type() types.ActionType { return types.ActionExecuteQuery }

// GetSchemaAction introspects a target database.
type GetSchemaAction struct {
	DatabaseID   string
	DatabaseName string
}

func (GetSchemaAction) Type() types.ActionType { return types.ActionGetSchema }

// ListDatabasesAction enumerates the owner's databases. No arguments.
type ListDatabasesAction struct{}

func (ListDatabasesAction) Type() types.ActionType { return types.ActionListDatabases }

// ImportFromFileAction creates a database (if needed) and executes the
// statements split from the uploaded file content.
type ImportFromFileAction struct {
	Filename     string
	DatabaseName string
}

func (ImportFromFileAction) Type() types.ActionType { return types.ActionImportFromFile }

// ParseAction validates a raw tool call into a typed Action. Required
// fields must be present with the right types; unknown action names are
// rejected, never defaulted.
func ParseAction(call *types.ToolCall) (Action, error) {
	if call == nil {
		return nil, fmt.Errorf("%w: nil tool call", ErrUnknownAction)
	}
	switch call.Name {
	case string(types.ActionCreateDatabase):
		name, err := requiredString(call.Args, "name")
		if err != nil {
			return nil, err
		}
		desc, err := optionalString(call.Args, "description")
		if err != nil {
			return nil, err
		}
		tables, err := optionalTableDefs(call.Args, "tables")
		if err != nil {
			return nil, err
		}
		return CreateDatabaseAction{Name: name, Description: desc, Tables: tables}, nil

	case string(types.ActionExecuteQuery):
		sqlText, err := requiredString(call.Args, "sql")
		if err != nil {
			return nil, err
		}
		id, err := optionalString(call.Args, "database_id")
		if err != nil {
			return nil, err
		}
		name, err := optionalString(call.Args, "database_name")
		if err != nil {
			return nil, err
		}
		return ExecuteQueryAction{SQL: sqlText, DatabaseID: id, DatabaseName: name}, nil

	case string(types.ActionGetSchema):
		id, err := optionalString(call.Args, "database_id")
		if err != nil {
			return nil, err
		}
		name, err := optionalString(call.Args, "database_name")
		if err != nil {
			return nil, err
		}
		return GetSchemaAction{DatabaseID: id, DatabaseName: name}, nil

	case string(types.ActionListDatabases):
		return ListDatabasesAction{}, nil

	case string(types.ActionImportFromFile):
		filename, err := requiredString(call.Args, "filename")
		if err != nil {
			return nil, err
		}
		name, err := optionalString(call.Args, "database_name")
		if err != nil {
			return nil, err
		}
		return ImportFromFileAction{Filename: filename, DatabaseName: name}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, call.Name)
}

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingRequiredArg, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgType, key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingRequiredArg, key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgType, key)
	}
	return s, nil
}

// identRe is the grammar for table and column names in inline table
// definitions, the same one database names must satisfy. These strings
// are interpolated into CREATE TABLE, so anything looser is an injection
// channel past the denylist.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// typeFragmentRe bounds column types and constraints: bare words plus an
// optional numeric size, e.g. VARCHAR(255), DECIMAL(10,2), NOT NULL,
// PRIMARY KEY AUTOINCREMENT, DEFAULT 0.
var typeFragmentRe = regexp.MustCompile(`^[A-Za-z0-9_ ]+(\(\s*\d+(\s*,\s*\d+)?\s*\))?$`)

func validIdent(s string) error {
	if len(s) > 64 || !identRe.MatchString(s) {
		return fmt.Errorf("%w: invalid identifier %q", ErrInvalidArgType, s)
	}
	return nil
}

func validTypeFragment(field, s string) error {
	if len(s) > 128 || !typeFragmentRe.MatchString(s) {
		return fmt.Errorf("%w: invalid %s %q", ErrInvalidArgType, field, s)
	}
	return nil
}

func optionalTableDefs(args map[string]any, key string) ([]TableDef, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array of table definitions", ErrInvalidArgType, key)
	}
	out := make([]TableDef, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s entries must be objects", ErrInvalidArgType, key)
		}
		name, err := requiredString(obj, "name")
		if err != nil {
			return nil, fmt.Errorf("table definition: %w", err)
		}
		if err := validIdent(name); err != nil {
			return nil, fmt.Errorf("table definition: %w", err)
		}
		def := TableDef{Name: name}

		rawCols, ok := obj["columns"].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: table %s needs a columns array", ErrMissingRequiredArg, name)
		}
		for _, rawCol := range rawCols {
			colObj, ok := rawCol.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: columns of %s must be objects", ErrInvalidArgType, name)
			}
			colName, err := requiredString(colObj, "name")
			if err != nil {
				return nil, fmt.Errorf("column of table %s: %w", name, err)
			}
			if err := validIdent(colName); err != nil {
				return nil, fmt.Errorf("column of table %s: %w", name, err)
			}
			colType, err := requiredString(colObj, "type")
			if err != nil {
				return nil, fmt.Errorf("column %s of table %s: %w", colName, name, err)
			}
			if err := validTypeFragment("type", colType); err != nil {
				return nil, fmt.Errorf("column %s of table %s: %w", colName, name, err)
			}
			constraints, err := optionalString(colObj, "constraints")
			if err != nil {
				return nil, err
			}
			if constraints != "" {
				if err := validTypeFragment("constraints", constraints); err != nil {
					return nil, fmt.Errorf("column %s of table %s: %w", colName, name, err)
				}
			}
			def.Columns = append(def.Columns, ColumnDef{Name: colName, Type: colType, Constraints: constraints})
		}
		if len(def.Columns) == 0 {
			return nil, fmt.Errorf("%w: table %s has no columns", ErrMissingRequiredArg, name)
		}
		out = append(out, def)
	}
	return out, nil
}

// deniedSQL matches keywords that must never reach a tenant database,
// whether generated by the reasoning service or imported from a file.
// ATTACH and DETACH are denied because every tenant database is a file:
// attaching an arbitrary path would read across owner boundaries.
var deniedSQL = regexp.MustCompile(`(?i)\b(GRANT|REVOKE|SHUTDOWN|BENCHMARK|SLEEP|LOAD_FILE|ATTACH|DETACH)\b|(?i)INTO\s+(OUTFILE|DUMPFILE)`)

// ScreenSQL rejects statements containing denied keywords. It runs after
// validation and before execution on every statement the engine executes.
func ScreenSQL(stmt string) error {
	if m := deniedSQL.FindString(stmt); m != "" {
		return fmt.Errorf("%w: %s", ErrUnsafeSQL, strings.ToUpper(strings.TrimSpace(m)))
	}
	return nil
}

// SplitStatements splits raw SQL text into individual statements on
// semicolons, skipping blank fragments and line comments. Quoted
// semicolons inside string literals are respected.
func SplitStatements(content string) []string {
	var (
		stmts   []string
		current strings.Builder
		inStr   rune
	)
	for i := 0; i < len(content); i++ {
		ch := rune(content[i])
		switch {
		case inStr != 0:
			current.WriteRune(ch)
			if ch == inStr {
				inStr = 0
			}
		case ch == '\'' || ch == '"' || ch == '`':
			inStr = ch
			current.WriteRune(ch)
		case ch == ';':
			if s := cleanStatement(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	if s := cleanStatement(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

func cleanStatement(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		lines = append(lines, trimmed)
	}
	return strings.Join(lines, " ")
}
