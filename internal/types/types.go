// Package types holds the domain types shared across the AskDB engine:
// tenant databases, conversation turns, actions, and the result envelope
// returned for every chat turn.
package types

import (
	"context"
	"time"
)

// DatabaseStatus tracks the lifecycle of a tenant database.
type DatabaseStatus string

const (
	StatusActive  DatabaseStatus = "active"
	StatusDropped DatabaseStatus = "dropped"
)

// TenantDatabase is the catalog record for one owner-scoped database.
// Name is unique within the owner's namespace.
type TenantDatabase struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Name      string         `json:"name"`
	Status    DatabaseStatus `json:"status"`
	Charset   string         `json:"charset,omitempty"`
	Collation string         `json:"collation,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ConversationTurn is one prior exchange, supplied by the history
// collaborator most-recent-last. Read-only to the engine.
type ConversationTurn struct {
	Prompt     string    `json:"prompt"`
	SQL        string    `json:"sql"`
	DatabaseID string    `json:"database_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// DatabaseReference is a ranked hint derived from conversation history.
// It is never treated as ground truth; the dispatcher re-validates
// resolved ids against the pool's catalog.
type DatabaseReference struct {
	DatabaseID       string    `json:"database_id"`
	DisplayName      string    `json:"display_name"`
	LastReferencedAt time.Time `json:"last_referenced_at"`
}

// ActionType identifies which of the recognized actions a turn resolved to.
type ActionType string

const (
	ActionCreateDatabase ActionType = "create_database"
	ActionExecuteQuery   ActionType = "execute_query"
	ActionGetSchema      ActionType = "get_schema"
	ActionListDatabases  ActionType = "list_databases"
	ActionImportFromFile ActionType = "create_database_from_file"
	ActionChat           ActionType = "chat"
	ActionError          ActionType = "error"
)

// QueryType classifies SQL by its leading keyword.
type QueryType string

const (
	QuerySelect QueryType = "SELECT"
	QueryInsert QueryType = "INSERT"
	QueryUpdate QueryType = "UPDATE"
	QueryDelete QueryType = "DELETE"
	QueryCreate QueryType = "CREATE"
	QueryDrop   QueryType = "DROP"
	QueryAlter  QueryType = "ALTER"
	QueryOther  QueryType = "OTHER"
)

// ActionResult is the uniform envelope returned to the caller for every
// turn, success or handled failure.
type ActionResult struct {
	Message    string     `json:"message"`
	ActionType ActionType `json:"action_type"`
	SQL        string     `json:"sql,omitempty"`
	Results    any        `json:"results,omitempty"`
	DatabaseID string     `json:"database_id,omitempty"`
	QueryType  QueryType  `json:"query_type"`
}

// FileUpload carries raw uploaded bytes through to the import action
// untouched. The engine never interprets the content beyond splitting
// statements.
type FileUpload struct {
	Filename string
	Content  []byte
}

// Turn is the engine's input for one chat exchange. History is the bounded
// recent window, most-recent-last.
type Turn struct {
	OwnerID        string
	ConversationID string
	Message        string
	File           *FileUpload
	History        []ConversationTurn
}

// ToolDefinition describes a callable action exposed to the reasoning
// service, as a name plus JSON-schema parameters.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a structured invocation chosen by the reasoning service.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Completion is the reasoning service's answer to one turn: either plain
// text, or exactly one tool call, or both.
type Completion struct {
	Text     string    `json:"text"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// ReasoningClient is the external reasoning service. One structured call
// per turn; implementations must honor ctx deadlines.
type ReasoningClient interface {
	CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []ToolDefinition) (*Completion, error)
}
