// Package prompt assembles the structured request sent to the reasoning
// service: the fixed system directive, the per-turn context block, and
// the action declarations. It is pure data assembly and never executes
// anything.
package prompt

import (
	"fmt"
	"strings"

	"askdb/internal/pool"
	"askdb/internal/types"
)

// SystemDirective enumerates the five actions, their selection rules, and
// the hard constraints the reasoning service must follow.
func SystemDirective() string {
	return `You are AskDB, an assistant that manages relational databases through natural language.

You resolve every user message into at most one of these actions:
- create_database: create a genuinely NEW database, optionally with table definitions. Never use this for changes inside an existing database.
- execute_query: run a SQL statement against an EXISTING database. Use this for all schema or data changes inside a database the user already has.
- get_schema: describe the structure of an existing database.
- list_databases: enumerate the user's databases.
- create_database_from_file: create a database from an uploaded file. Only when a file is attached.

Rules:
1. Choose exactly one action, or answer conversationally when no database work is requested.
2. When the conversation context shows exactly one candidate database, omit the database target for execute_query and get_schema; it will be resolved from context.
3. When the user names a database explicitly, pass that name as the target.
4. Generate standard SQL. Quote identifiers only when necessary. For SELECT over large tables include a LIMIT clause (default LIMIT 100).
5. Never generate GRANT, REVOKE, file-access, or benchmarking statements.
6. Return only the action invocation or a short conversational answer, no markdown fences.`
}

// Builder constructs the per-turn context block. Window bounds how many
// recent turns are embedded verbatim.
type Builder struct {
	Window int
}

// NewBuilder returns a Builder with the given turn window (<=0 means 5).
func NewBuilder(window int) *Builder {
	if window <= 0 {
		window = 5
	}
	return &Builder{Window: window}
}

// BuildUserPrompt renders the user message together with ranked database
// references, recent turns, the active schema (when exactly one candidate
// exists), and any attached file notice.
func (b *Builder) BuildUserPrompt(message string, refs []types.DatabaseReference, turns []types.ConversationTurn, schema *pool.Schema, file *types.FileUpload) string {
	var sb strings.Builder

	if len(refs) > 0 {
		sb.WriteString("Databases referenced in this conversation (most recent first):\n")
		for i, ref := range refs {
			fmt.Fprintf(&sb, "%d. %s (id=%s)\n", i+1, ref.DisplayName, ref.DatabaseID)
		}
		sb.WriteString("\n")
	}

	if schema != nil {
		sb.WriteString(FormatSchema(schema))
		sb.WriteString("\n")
	}

	if recent := tail(turns, b.Window); len(recent) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, t := range recent {
			fmt.Fprintf(&sb, "User: %s\n", t.Prompt)
			if t.SQL != "" {
				fmt.Fprintf(&sb, "SQL: %s\n", t.SQL)
			}
		}
		sb.WriteString("\n")
	}

	if file != nil {
		fmt.Fprintf(&sb, "[File attached: %s]\n\n", file.Filename)
	}

	fmt.Fprintf(&sb, "User message: %q", message)
	return sb.String()
}

// FormatSchema renders an introspected schema in the compact column-list
// form the reasoning service consumes.
func FormatSchema(schema *pool.Schema) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Database schema for: %s\n\n", schema.DatabaseName)

	for _, table := range schema.Tables {
		fmt.Fprintf(&sb, "Table: %s\n", table.Name)
		for _, col := range table.Columns {
			fmt.Fprintf(&sb, "- %s (%s)", col.Name, col.Type)
			if col.PrimaryKey {
				sb.WriteString(" [PRIMARY KEY]")
			}
			if col.NotNull {
				sb.WriteString(" [NOT NULL]")
			}
			sb.WriteString("\n")
		}
		if len(table.Indexes) > 0 {
			sb.WriteString("Indexes:\n")
			for _, idx := range table.Indexes {
				fmt.Fprintf(&sb, "- %s (%s)", idx.Name, strings.Join(idx.Columns, ", "))
				if idx.Unique {
					sb.WriteString(" [UNIQUE]")
				}
				sb.WriteString("\n")
			}
		}
		if len(table.SampleRows) > 0 {
			sb.WriteString("Sample data:\n")
			for _, row := range table.SampleRows {
				fmt.Fprintf(&sb, "  %v\n", row)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ToolDefinitions declares the five actions with their argument schemas.
func ToolDefinitions() []types.ToolDefinition {
	return []types.ToolDefinition{
		{
			Name:        string(types.ActionCreateDatabase),
			Description: "Create a new database, optionally with table definitions",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string", "description": "Name of the database to create"},
					"description": map[string]any{"type": "string", "description": "Description of the database"},
					"tables": map[string]any{
						"type":        "array",
						"description": "Table definitions",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name": map[string]any{"type": "string"},
								"columns": map[string]any{
									"type": "array",
									"items": map[string]any{
										"type": "object",
										"properties": map[string]any{
											"name":        map[string]any{"type": "string"},
											"type":        map[string]any{"type": "string"},
											"constraints": map[string]any{"type": "string"},
										},
									},
								},
							},
						},
					},
				},
				"required": []any{"name"},
			},
		},
		{
			Name:        string(types.ActionExecuteQuery),
			Description: "Execute a SQL statement on a database",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sql":           map[string]any{"type": "string", "description": "SQL statement to execute"},
					"database_id":   map[string]any{"type": "string", "description": "ID of the target database"},
					"database_name": map[string]any{"type": "string", "description": "Name of the target database"},
				},
				"required": []any{"sql"},
			},
		},
		{
			Name:        string(types.ActionGetSchema),
			Description: "Get schema information for a database",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"database_id":   map[string]any{"type": "string", "description": "ID of the database"},
					"database_name": map[string]any{"type": "string", "description": "Name of the database"},
				},
			},
		},
		{
			Name:        string(types.ActionListDatabases),
			Description: "List all of the user's databases",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        string(types.ActionImportFromFile),
			Description: "Create a database from an uploaded file",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"filename":      map[string]any{"type": "string", "description": "Name of the uploaded file"},
					"database_name": map[string]any{"type": "string", "description": "Name for the new database"},
				},
				"required": []any{"filename"},
			},
		},
	}
}

func tail(turns []types.ConversationTurn, n int) []types.ConversationTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
