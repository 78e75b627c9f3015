// Package chat is the action dispatcher: it turns one chat turn into
// exactly one validated database action, executes it against the pool,
// and normalizes the outcome into an ActionResult. Every path through
// ProcessTurn, success or failure, yields a well-formed envelope.
package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"askdb/internal/history"
	"askdb/internal/logging"
	"askdb/internal/pool"
	"askdb/internal/prompt"
	"askdb/internal/reasoning"
	"askdb/internal/types"
)

// Limits bounds per-turn resource usage.
type Limits struct {
	// ContextWindowTurns caps how many history turns feed the extractor.
	ContextWindowTurns int
	// MaxBatchStatements caps statements per batch/import.
	MaxBatchStatements int
	// ReasoningTimeout is the hard deadline for the reasoning call.
	ReasoningTimeout time.Duration
}

// DefaultLimits returns the engine's default bounds.
func DefaultLimits() Limits {
	return Limits{
		ContextWindowTurns: 10,
		MaxBatchStatements: 100,
		ReasoningTimeout:   30 * time.Second,
	}
}

// Engine orchestrates one turn: context extraction, prompt assembly, the
// reasoning call, action validation, target resolution, execution, and
// normalization. Safe for concurrent use across turns; shared state lives
// in the pool.
type Engine struct {
	pool     *pool.Manager
	client   types.ReasoningClient
	builder  *prompt.Builder
	fallback []Rule
	limits   Limits
}

// NewEngine wires an engine over a pool manager and a reasoning client.
// client may be nil, in which case every turn goes through the fallback
// rule table.
func NewEngine(p *pool.Manager, client types.ReasoningClient, limits Limits) *Engine {
	if limits.ContextWindowTurns <= 0 {
		limits.ContextWindowTurns = 10
	}
	if limits.MaxBatchStatements <= 0 {
		limits.MaxBatchStatements = 100
	}
	if limits.ReasoningTimeout <= 0 {
		limits.ReasoningTimeout = 30 * time.Second
	}
	return &Engine{
		pool:     p,
		client:   client,
		builder:  prompt.NewBuilder(limits.ContextWindowTurns),
		fallback: DefaultRules(),
		limits:   limits,
	}
}

// ProcessTurn handles one chat turn end to end. It never returns an
// error: every failure is converted into an ActionResult with
// action_type "error" at this boundary.
func (e *Engine) ProcessTurn(ctx context.Context, turn types.Turn) types.ActionResult {
	timer := logging.StartTimer("chat", "ProcessTurn")
	defer timer.Stop()

	if strings.TrimSpace(turn.OwnerID) == "" {
		return errorResult("missing owner identity for this turn")
	}

	refs := e.contextReferences(ctx, turn)
	action, text, err := e.selectAction(ctx, turn, refs)
	if err != nil {
		return e.normalizeError(err)
	}
	if action == nil {
		// Plain conversational reply, no database action.
		return types.ActionResult{
			Message:    text,
			ActionType: types.ActionChat,
			QueryType:  types.QueryOther,
		}
	}

	result, err := e.executeAction(ctx, turn, action, refs)
	if err != nil {
		return e.normalizeError(err)
	}
	return result
}

// contextReferences extracts ranked database references from the turn's
// history window and drops any that no longer resolve in the catalog.
// The extractor's output is a hint, not ground truth.
func (e *Engine) contextReferences(ctx context.Context, turn types.Turn) []types.DatabaseReference {
	refs := history.ExtractReferences(turn.History, e.limits.ContextWindowTurns)
	if len(refs) == 0 {
		return nil
	}
	valid := refs[:0]
	for _, ref := range refs {
		if _, err := e.pool.Catalog().ResolveID(ctx, turn.OwnerID, ref.DatabaseID); err == nil {
			valid = append(valid, ref)
		} else {
			logging.ChatDebug("contextReferences: dropping stale reference %s (%s)", ref.DisplayName, ref.DatabaseID)
		}
	}
	return valid
}

// selectAction obtains exactly one action (or a plain-text reply) for the
// turn. Malformed reasoning output is retried once with an error hint;
// a second failure is terminal for the turn. When the reasoning service
// is unreachable the fallback rule table decides instead; a timed-out or
// canceled call is terminal, never handed to the fallback.
func (e *Engine) selectAction(ctx context.Context, turn types.Turn, refs []types.DatabaseReference) (Action, string, error) {
	if e.client == nil {
		return e.fallbackAction(turn, refs)
	}

	var schema *pool.Schema
	if len(refs) == 1 {
		db, err := e.pool.Catalog().ResolveID(ctx, turn.OwnerID, refs[0].DatabaseID)
		if err == nil {
			schema, _ = e.pool.IntrospectSchema(ctx, turn.OwnerID, db.Name)
		}
	}

	system := prompt.SystemDirective()
	user := e.builder.BuildUserPrompt(turn.Message, refs, turn.History, schema, turn.File)
	tools := prompt.ToolDefinitions()

	callCtx, cancel := context.WithTimeout(ctx, e.limits.ReasoningTimeout)
	defer cancel()

	completion, err := e.client.CompleteWithTools(callCtx, system, user, tools)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// A timed-out turn fails closed. The fallback rules are for an
		// unreachable service, not for a slow one: acting on a guess
		// after the model ran out of time could execute the wrong action.
		return nil, "", &ReasoningServiceError{Err: err}
	}
	if err != nil && !errors.Is(err, reasoning.ErrMalformedOutput) {
		logging.ChatWarn("selectAction: reasoning unreachable, using fallback rules: %v", err)
		return e.fallbackAction(turn, refs)
	}

	var action Action
	if err == nil {
		if completion.ToolCall == nil {
			return nil, completion.Text, nil
		}
		action, err = ParseAction(completion.ToolCall)
		if err == nil {
			return action, "", nil
		}
	}

	// One retry with the validation failure appended as a hint.
	logging.Chat("selectAction: malformed output, retrying once: %v", err)
	hinted := user + fmt.Sprintf("\n\nYour previous response was invalid (%v). Respond again with one valid function call.", err)

	retryCtx, cancelRetry := context.WithTimeout(ctx, e.limits.ReasoningTimeout)
	defer cancelRetry()

	completion, retryErr := e.client.CompleteWithTools(retryCtx, system, hinted, tools)
	if retryErr != nil {
		return nil, "", &ReasoningServiceError{Err: retryErr}
	}
	if completion.ToolCall == nil {
		return nil, completion.Text, nil
	}
	action, err = ParseAction(completion.ToolCall)
	if err != nil {
		return nil, "", &ReasoningServiceError{Err: err}
	}
	return action, "", nil
}

// fallbackAction consults the regex rule table when no reasoning service
// is available. A miss is a chat reply explaining what the engine can do.
func (e *Engine) fallbackAction(turn types.Turn, refs []types.DatabaseReference) (Action, string, error) {
	action, ok := MatchRules(e.fallback, turn.Message)
	if !ok {
		return nil, noMatchHelp, nil
	}
	logging.ChatDebug("fallbackAction: matched rule for %T", action)
	return action, "", nil
}

// executeAction dispatches a validated action to its handler.
func (e *Engine) executeAction(ctx context.Context, turn types.Turn, action Action, refs []types.DatabaseReference) (types.ActionResult, error) {
	switch a := action.(type) {
	case CreateDatabaseAction:
		return e.handleCreate(ctx, turn.OwnerID, a)
	case ExecuteQueryAction:
		return e.handleQuery(ctx, turn.OwnerID, a, refs)
	case GetSchemaAction:
		return e.handleSchema(ctx, turn.OwnerID, a, refs)
	case ListDatabasesAction:
		return e.handleList(ctx, turn.OwnerID)
	case ImportFromFileAction:
		return e.handleImport(ctx, turn.OwnerID, a, turn.File)
	}
	return types.ActionResult{}, fmt.Errorf("%w: %T", ErrUnknownAction, action)
}

func (e *Engine) handleCreate(ctx context.Context, owner string, a CreateDatabaseAction) (types.ActionResult, error) {
	statements := make([]string, len(a.Tables))
	for i, tbl := range a.Tables {
		statements[i] = tbl.CreateSQL()
		if err := ScreenSQL(statements[i]); err != nil {
			return types.ActionResult{}, err
		}
	}

	db, err := e.pool.CreateDatabase(ctx, owner, a.Name, pool.Options{})
	if err != nil {
		return types.ActionResult{}, err
	}

	var batch []pool.StatementResult
	if len(statements) > 0 {
		batch, err = e.pool.ExecuteBatch(ctx, owner, a.Name, statements)
		if err != nil {
			return normalizeCreatePartial(db, batch, err), nil
		}
	}
	return normalizeCreate(db, len(batch)), nil
}

func (e *Engine) handleQuery(ctx context.Context, owner string, a ExecuteQueryAction, refs []types.DatabaseReference) (types.ActionResult, error) {
	if err := ScreenSQL(a.SQL); err != nil {
		return types.ActionResult{}, err
	}
	db, err := e.resolveTarget(ctx, owner, a.DatabaseID, a.DatabaseName, refs)
	if err != nil {
		return types.ActionResult{}, err
	}
	result, err := e.pool.Execute(ctx, owner, db.Name, a.SQL)
	if err != nil {
		return types.ActionResult{}, err
	}
	return normalizeQuery(db, a.SQL, result), nil
}

func (e *Engine) handleSchema(ctx context.Context, owner string, a GetSchemaAction, refs []types.DatabaseReference) (types.ActionResult, error) {
	db, err := e.resolveTarget(ctx, owner, a.DatabaseID, a.DatabaseName, refs)
	if err != nil {
		return types.ActionResult{}, err
	}
	schema, err := e.pool.IntrospectSchema(ctx, owner, db.Name)
	if err != nil {
		return types.ActionResult{}, err
	}
	return normalizeSchema(db, schema), nil
}

func (e *Engine) handleList(ctx context.Context, owner string) (types.ActionResult, error) {
	names, err := e.pool.ListDatabases(owner)
	if err != nil {
		return types.ActionResult{}, err
	}
	return normalizeList(names), nil
}

func (e *Engine) handleImport(ctx context.Context, owner string, a ImportFromFileAction, file *types.FileUpload) (types.ActionResult, error) {
	if file == nil || len(file.Content) == 0 {
		return types.ActionResult{}, fmt.Errorf("%w: no file attached to this turn", ErrEmptyStatement)
	}

	name := a.DatabaseName
	if name == "" {
		name = nameFromFilename(a.Filename)
	}

	statements := SplitStatements(string(file.Content))
	if len(statements) == 0 {
		return types.ActionResult{}, fmt.Errorf("%w: %s", ErrEmptyStatement, a.Filename)
	}
	if len(statements) > e.limits.MaxBatchStatements {
		return types.ActionResult{}, fmt.Errorf("file contains %d statements, limit is %d", len(statements), e.limits.MaxBatchStatements)
	}
	for _, stmt := range statements {
		if err := ScreenSQL(stmt); err != nil {
			return types.ActionResult{}, err
		}
	}

	db, err := e.pool.CreateDatabase(ctx, owner, name, pool.Options{})
	if errors.Is(err, pool.ErrDuplicateName) {
		// Import into the existing database of that name.
		db, err = e.pool.Catalog().ResolveName(ctx, owner, name)
	}
	if err != nil {
		return types.ActionResult{}, err
	}

	batch, err := e.pool.ExecuteBatch(ctx, owner, name, statements)
	if err != nil {
		return normalizeImportPartial(db, a.Filename, batch, err), nil
	}
	return normalizeImport(db, a.Filename, len(batch)), nil
}

// nameFromFilename derives a valid database name from an uploaded
// filename: base name without extension, invalid characters replaced.
func nameFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "db_" + name
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
