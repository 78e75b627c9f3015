package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"askdb/internal/pool"
	"askdb/internal/types"
)

// stubClient returns scripted completions in order and records prompts.
type stubClient struct {
	completions []*types.Completion
	errs        []error
	prompts     []string
	calls       int
}

func (s *stubClient) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []types.ToolDefinition) (*types.Completion, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, userPrompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.completions) {
		return s.completions[i], nil
	}
	return &types.Completion{Text: "out of script"}, nil
}

func toolCall(name string, args map[string]any) *types.Completion {
	return &types.Completion{ToolCall: &types.ToolCall{Name: name, Args: args}}
}

func newTestEngine(t *testing.T, client types.ReasoningClient) (*Engine, *pool.Manager) {
	t.Helper()
	mgr, err := pool.NewManager(t.TempDir(), 100)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return NewEngine(mgr, client, DefaultLimits()), mgr
}

func historyTurn(prompt, sqlText, dbID string) types.ConversationTurn {
	return types.ConversationTurn{
		Prompt:     prompt,
		SQL:        sqlText,
		DatabaseID: dbID,
		CreatedAt:  time.Now(),
	}
}

func TestProcessTurnChatReply(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{{Text: "I can manage databases for you."}}}
	engine, _ := newTestEngine(t, client)

	result := engine.ProcessTurn(context.Background(), types.Turn{
		OwnerID: "alice",
		Message: "what can you do?",
	})

	if result.ActionType != types.ActionChat {
		t.Fatalf("got action %s, want chat", result.ActionType)
	}
	if result.Message != "I can manage databases for you." {
		t.Errorf("got message %q", result.Message)
	}
}

func TestProcessTurnResolvesSingleCandidate(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("execute_query", map[string]any{"sql": "SELECT * FROM customers"}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	db, err := mgr.CreateDatabase(ctx, "alice", "customers", pool.Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := mgr.Execute(ctx, "alice", "customers", "CREATE TABLE customers (id INTEGER, name TEXT)"); err != nil {
		t.Fatalf("setup table: %v", err)
	}

	result := engine.ProcessTurn(ctx, types.Turn{
		OwnerID: "alice",
		Message: "show me all customers",
		History: []types.ConversationTurn{
			historyTurn("create customers db", "CREATE DATABASE customers", db.ID),
		},
	})

	if result.ActionType != types.ActionExecuteQuery {
		t.Fatalf("got action %s (%s), want execute_query", result.ActionType, result.Message)
	}
	if result.DatabaseID != db.ID {
		t.Errorf("resolved database %q, want %q", result.DatabaseID, db.ID)
	}
	if result.QueryType != types.QuerySelect {
		t.Errorf("got query type %s, want SELECT", result.QueryType)
	}
	if result.SQL != "SELECT * FROM customers" {
		t.Errorf("got sql %q", result.SQL)
	}
}

func TestProcessTurnAmbiguousCandidates(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("execute_query", map[string]any{"sql": "SELECT 1"}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	sales, err := mgr.CreateDatabase(ctx, "alice", "sales", pool.Options{})
	if err != nil {
		t.Fatalf("create sales: %v", err)
	}
	hr, err := mgr.CreateDatabase(ctx, "alice", "hr", pool.Options{})
	if err != nil {
		t.Fatalf("create hr: %v", err)
	}

	result := engine.ProcessTurn(ctx, types.Turn{
		OwnerID: "alice",
		Message: "run it",
		History: []types.ConversationTurn{
			historyTurn("create sales", "CREATE DATABASE sales", sales.ID),
			historyTurn("create hr", "CREATE DATABASE hr", hr.ID),
		},
	})

	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s, want error", result.ActionType)
	}
	// The candidate list must name every option, never guess one.
	if !strings.Contains(result.Message, "sales") || !strings.Contains(result.Message, "hr") {
		t.Errorf("ambiguity message does not list all candidates: %q", result.Message)
	}
	candidates, ok := result.Results.([]types.DatabaseReference)
	if !ok || len(candidates) != 2 {
		t.Errorf("got results %v, want 2 candidates", result.Results)
	}
}

func TestProcessTurnExplicitNameBeatsContext(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("execute_query", map[string]any{"sql": "SELECT 1", "database_name": "hr"}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	sales, err := mgr.CreateDatabase(ctx, "alice", "sales", pool.Options{})
	if err != nil {
		t.Fatalf("create sales: %v", err)
	}
	hr, err := mgr.CreateDatabase(ctx, "alice", "hr", pool.Options{})
	if err != nil {
		t.Fatalf("create hr: %v", err)
	}

	result := engine.ProcessTurn(ctx, types.Turn{
		OwnerID: "alice",
		Message: "query hr",
		History: []types.ConversationTurn{
			historyTurn("create sales", "CREATE DATABASE sales", sales.ID),
		},
	})

	if result.ActionType != types.ActionExecuteQuery {
		t.Fatalf("got action %s (%s)", result.ActionType, result.Message)
	}
	if result.DatabaseID != hr.ID {
		t.Errorf("explicit name resolved to %q, want hr's id", result.DatabaseID)
	}
}

func TestProcessTurnMalformedOutputRetriedOnce(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("no_such_action", map[string]any{}),
		{Text: "Sorry, here is a plain answer."},
	}}
	engine, _ := newTestEngine(t, client)

	result := engine.ProcessTurn(context.Background(), types.Turn{
		OwnerID: "alice",
		Message: "hello",
	})

	if client.calls != 2 {
		t.Fatalf("got %d reasoning calls, want 2 (one retry)", client.calls)
	}
	if !strings.Contains(client.prompts[1], "invalid") {
		t.Error("retry prompt carries no error hint")
	}
	if result.ActionType != types.ActionChat {
		t.Errorf("got action %s, want chat after recovery", result.ActionType)
	}
}

func TestProcessTurnMalformedOutputTwiceIsTerminal(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("execute_query", map[string]any{}), // missing sql
		toolCall("execute_query", map[string]any{}), // still missing
	}}
	engine, _ := newTestEngine(t, client)

	result := engine.ProcessTurn(context.Background(), types.Turn{
		OwnerID: "alice",
		Message: "do the thing",
	})

	if client.calls != 2 {
		t.Fatalf("got %d reasoning calls, want exactly 2", client.calls)
	}
	if result.ActionType != types.ActionError {
		t.Errorf("got action %s, want error", result.ActionType)
	}
}

func TestProcessTurnCreateDatabaseWithTables(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("create_database", map[string]any{
			"name": "shop",
			"tables": []any{
				map[string]any{
					"name": "items",
					"columns": []any{
						map[string]any{"name": "id", "type": "INTEGER", "constraints": "PRIMARY KEY"},
					},
				},
			},
		}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	result := engine.ProcessTurn(ctx, types.Turn{OwnerID: "alice", Message: "make a shop db"})

	if result.ActionType != types.ActionCreateDatabase {
		t.Fatalf("got action %s (%s)", result.ActionType, result.Message)
	}
	if result.DatabaseID == "" {
		t.Error("no database id in result")
	}

	res, err := mgr.Execute(ctx, "alice", "shop", "SELECT name FROM sqlite_master WHERE type='table' AND name='items'")
	if err != nil {
		t.Fatalf("verify table: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Error("inline table definition was not applied")
	}
}

func TestProcessTurnDuplicateCreateIsFriendly(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("create_database", map[string]any{"name": "sales"}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := mgr.CreateDatabase(ctx, "alice", "sales", pool.Options{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	result := engine.ProcessTurn(ctx, types.Turn{OwnerID: "alice", Message: "create sales"})
	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s, want error", result.ActionType)
	}
	if !strings.Contains(result.Message, "already exists") {
		t.Errorf("got message %q", result.Message)
	}
}

func TestProcessTurnListDatabases(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("list_databases", map[string]any{}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		if _, err := mgr.CreateDatabase(ctx, "alice", name, pool.Options{}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	result := engine.ProcessTurn(ctx, types.Turn{OwnerID: "alice", Message: "list my databases"})
	if result.ActionType != types.ActionListDatabases {
		t.Fatalf("got action %s (%s)", result.ActionType, result.Message)
	}
	names, ok := result.Results.([]string)
	if !ok || len(names) != 2 {
		t.Errorf("got results %v, want two names", result.Results)
	}
}

func TestProcessTurnGetSchema(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("get_schema", map[string]any{"database_name": "shop"}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := mgr.CreateDatabase(ctx, "alice", "shop", pool.Options{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := mgr.Execute(ctx, "alice", "shop", "CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	result := engine.ProcessTurn(ctx, types.Turn{OwnerID: "alice", Message: "what's in shop?"})
	if result.ActionType != types.ActionGetSchema {
		t.Fatalf("got action %s (%s)", result.ActionType, result.Message)
	}
	schema, ok := result.Results.(*pool.Schema)
	if !ok || len(schema.Tables) != 1 {
		t.Errorf("got results %v, want one-table schema", result.Results)
	}
}

func TestProcessTurnImportFromFile(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("create_database_from_file", map[string]any{"filename": "dump.sql"}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	content := "CREATE TABLE users (id INTEGER);\nINSERT INTO users VALUES (1);\n"
	result := engine.ProcessTurn(ctx, types.Turn{
		OwnerID: "alice",
		Message: "import this dump",
		File:    &types.FileUpload{Filename: "dump.sql", Content: []byte(content)},
	})

	if result.ActionType != types.ActionImportFromFile {
		t.Fatalf("got action %s (%s)", result.ActionType, result.Message)
	}

	res, err := mgr.Execute(ctx, "alice", "dump", "SELECT COUNT(*) AS c FROM users")
	if err != nil {
		t.Fatalf("verify import: %v", err)
	}
	if c, _ := res.Rows[0]["c"].(int64); c != 1 {
		t.Errorf("imported row count %v, want 1", res.Rows[0]["c"])
	}
}

func TestProcessTurnImportWithoutFile(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("create_database_from_file", map[string]any{"filename": "dump.sql"}),
	}}
	engine, _ := newTestEngine(t, client)

	result := engine.ProcessTurn(context.Background(), types.Turn{OwnerID: "alice", Message: "import"})
	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s, want error without an attached file", result.ActionType)
	}
}

func TestProcessTurnUnsafeSQLRejected(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("execute_query", map[string]any{"sql": "GRANT ALL ON x.* TO 'y'", "database_name": "sales"}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := mgr.CreateDatabase(ctx, "alice", "sales", pool.Options{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	result := engine.ProcessTurn(ctx, types.Turn{OwnerID: "alice", Message: "grant access"})
	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s, want error", result.ActionType)
	}
}

func TestProcessTurnNoTarget(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("execute_query", map[string]any{"sql": "SELECT 1"}),
	}}
	engine, _ := newTestEngine(t, client)

	result := engine.ProcessTurn(context.Background(), types.Turn{OwnerID: "alice", Message: "run it"})
	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s, want error with no context and no target", result.ActionType)
	}
}

func TestProcessTurnStaleReferenceIgnored(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("execute_query", map[string]any{"sql": "SELECT 1"}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	db, err := mgr.CreateDatabase(ctx, "alice", "temp", pool.Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.DropDatabase(ctx, "alice", "temp"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	result := engine.ProcessTurn(ctx, types.Turn{
		OwnerID: "alice",
		Message: "query it",
		History: []types.ConversationTurn{
			historyTurn("create temp", "CREATE DATABASE temp", db.ID),
		},
	})

	// The dropped database must not be resolved from context.
	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s, want error", result.ActionType)
	}
	if result.DatabaseID == db.ID {
		t.Error("stale reference resolved to a dropped database")
	}
}

func TestProcessTurnFallbackWithoutClient(t *testing.T) {
	engine, mgr := newTestEngine(t, nil)
	ctx := context.Background()

	result := engine.ProcessTurn(ctx, types.Turn{
		OwnerID: "alice",
		Message: "create a database called sales",
	})
	if result.ActionType != types.ActionCreateDatabase {
		t.Fatalf("got action %s (%s), want create_database via fallback", result.ActionType, result.Message)
	}
	if _, err := mgr.Catalog().ResolveName(ctx, "alice", "sales"); err != nil {
		t.Errorf("fallback create did not provision the database: %v", err)
	}
}

func TestProcessTurnFallbackNoMatchIsChat(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	result := engine.ProcessTurn(context.Background(), types.Turn{
		OwnerID: "alice",
		Message: "tell me a joke",
	})
	if result.ActionType != types.ActionChat {
		t.Fatalf("got action %s, want chat for no-match", result.ActionType)
	}
	if result.Message == "" {
		t.Error("no-match reply is empty")
	}
}

func TestProcessTurnMissingOwner(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	result := engine.ProcessTurn(context.Background(), types.Turn{Message: "list my databases"})
	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s, want error for missing owner", result.ActionType)
	}
}

func TestProcessTurnTimeoutFailsClosed(t *testing.T) {
	client := &stubClient{errs: []error{context.DeadlineExceeded}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	result := engine.ProcessTurn(ctx, types.Turn{
		OwnerID: "alice",
		Message: "create a database called quarterly_sales",
	})

	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s (%s), want error for timed-out reasoning call", result.ActionType, result.Message)
	}
	if client.calls != 1 {
		t.Errorf("got %d reasoning calls, want 1 (no retry after timeout)", client.calls)
	}
	names, err := mgr.ListDatabases("alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("timed-out turn executed an action, databases: %v", names)
	}
}

func TestProcessTurnCanceledFailsClosed(t *testing.T) {
	client := &stubClient{errs: []error{context.Canceled}}
	engine, _ := newTestEngine(t, client)

	result := engine.ProcessTurn(context.Background(), types.Turn{
		OwnerID: "alice",
		Message: "list my databases",
	})

	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s (%s), want error for canceled reasoning call", result.ActionType, result.Message)
	}
	if client.calls != 1 {
		t.Errorf("got %d reasoning calls, want 1", client.calls)
	}
}

func TestProcessTurnAttachBlockedAcrossOwners(t *testing.T) {
	client := &stubClient{completions: []*types.Completion{
		toolCall("execute_query", map[string]any{
			"sql":           "ATTACH DATABASE 'tenants/bob/secrets.db' AS b",
			"database_name": "scratch",
		}),
	}}
	engine, mgr := newTestEngine(t, client)
	ctx := context.Background()

	if _, err := mgr.CreateDatabase(ctx, "bob", "secrets", pool.Options{}); err != nil {
		t.Fatalf("create bob db: %v", err)
	}
	if _, err := mgr.Execute(ctx, "bob", "secrets", "CREATE TABLE s (v TEXT)"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := mgr.Execute(ctx, "bob", "secrets", "INSERT INTO s VALUES ('bob-private')"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	scratch, err := mgr.CreateDatabase(ctx, "alice", "scratch", pool.Options{})
	if err != nil {
		t.Fatalf("create alice db: %v", err)
	}

	result := engine.ProcessTurn(ctx, types.Turn{
		OwnerID: "alice",
		Message: "attach bob's database",
		History: []types.ConversationTurn{
			historyTurn("create scratch", "CREATE DATABASE scratch", scratch.ID),
		},
	})

	if result.ActionType != types.ActionError {
		t.Fatalf("got action %s (%s), want error for ATTACH", result.ActionType, result.Message)
	}
}
