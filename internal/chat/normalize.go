package chat

import (
	"errors"
	"fmt"
	"strings"

	"askdb/internal/pool"
	"askdb/internal/types"
)

// noMatchHelp is the terminal reply when neither the reasoning service
// nor the fallback rules produce an action.
const noMatchHelp = "I can create databases, run SQL queries, show schemas, " +
	"list your databases, or import a SQL file. Tell me what you'd like to do, " +
	"for example: \"create a database called sales\" or \"show me all customers\"."

// ClassifyQuery maps a statement's leading keyword to a QueryType.
func ClassifyQuery(sqlText string) types.QueryType {
	fields := strings.Fields(strings.TrimSpace(sqlText))
	if len(fields) == 0 {
		return types.QueryOther
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT":
		return types.QuerySelect
	case "INSERT":
		return types.QueryInsert
	case "UPDATE":
		return types.QueryUpdate
	case "DELETE":
		return types.QueryDelete
	case "CREATE":
		return types.QueryCreate
	case "DROP":
		return types.QueryDrop
	case "ALTER":
		return types.QueryAlter
	}
	return types.QueryOther
}

func normalizeCreate(db types.TenantDatabase, tableCount int) types.ActionResult {
	msg := fmt.Sprintf("Database %q created.", db.Name)
	if tableCount > 0 {
		msg = fmt.Sprintf("Database %q created with %d tables.", db.Name, tableCount)
	}
	return types.ActionResult{
		Message:    msg,
		ActionType: types.ActionCreateDatabase,
		DatabaseID: db.ID,
		QueryType:  types.QueryCreate,
	}
}

func normalizeCreatePartial(db types.TenantDatabase, batch []pool.StatementResult, err error) types.ActionResult {
	return types.ActionResult{
		Message: fmt.Sprintf("Database %q created, but table setup stopped after %d statements: %v",
			db.Name, len(batch), err),
		ActionType: types.ActionError,
		Results:    batch,
		DatabaseID: db.ID,
		QueryType:  types.QueryCreate,
	}
}

func normalizeQuery(db types.TenantDatabase, sqlText string, result *pool.Result) types.ActionResult {
	qt := ClassifyQuery(sqlText)
	var msg string
	switch qt {
	case types.QuerySelect:
		msg = fmt.Sprintf("Query returned %d rows.", len(result.Rows))
	case types.QueryInsert:
		msg = fmt.Sprintf("Inserted %d rows.", result.AffectedRows)
	case types.QueryUpdate:
		msg = fmt.Sprintf("Updated %d rows.", result.AffectedRows)
	case types.QueryDelete:
		msg = fmt.Sprintf("Deleted %d rows.", result.AffectedRows)
	default:
		msg = "Statement executed."
	}
	return types.ActionResult{
		Message:    msg,
		ActionType: types.ActionExecuteQuery,
		SQL:        sqlText,
		Results:    result,
		DatabaseID: db.ID,
		QueryType:  qt,
	}
}

func normalizeSchema(db types.TenantDatabase, schema *pool.Schema) types.ActionResult {
	return types.ActionResult{
		Message:    fmt.Sprintf("Database %q has %d tables.", db.Name, len(schema.Tables)),
		ActionType: types.ActionGetSchema,
		Results:    schema,
		DatabaseID: db.ID,
		QueryType:  types.QueryOther,
	}
}

func normalizeList(names []string) types.ActionResult {
	msg := fmt.Sprintf("You have %d databases.", len(names))
	if len(names) == 0 {
		msg = "You have no databases yet. Ask me to create one."
	}
	return types.ActionResult{
		Message:    msg,
		ActionType: types.ActionListDatabases,
		Results:    names,
		QueryType:  types.QueryOther,
	}
}

func normalizeImport(db types.TenantDatabase, filename string, count int) types.ActionResult {
	return types.ActionResult{
		Message:    fmt.Sprintf("Imported %d statements from %s into %q.", count, filename, db.Name),
		ActionType: types.ActionImportFromFile,
		DatabaseID: db.ID,
		QueryType:  types.QueryCreate,
	}
}

func normalizeImportPartial(db types.TenantDatabase, filename string, batch []pool.StatementResult, err error) types.ActionResult {
	return types.ActionResult{
		Message: fmt.Sprintf("Import of %s stopped after %d statements: %v",
			filename, len(batch), err),
		ActionType: types.ActionError,
		Results:    batch,
		DatabaseID: db.ID,
		QueryType:  types.QueryOther,
	}
}

func errorResult(msg string) types.ActionResult {
	return types.ActionResult{
		Message:    msg,
		ActionType: types.ActionError,
		QueryType:  types.QueryOther,
	}
}

// normalizeError converts any error from the turn pipeline into a
// user-facing error envelope with a message specific to its class.
func (e *Engine) normalizeError(err error) types.ActionResult {
	var ambig *AmbiguousReferenceError
	if errors.As(err, &ambig) {
		names := make([]string, len(ambig.Candidates))
		for i, c := range ambig.Candidates {
			names[i] = c.DisplayName
		}
		res := errorResult(fmt.Sprintf(
			"You've mentioned several databases recently (%s). Which one do you mean?",
			strings.Join(names, ", ")))
		res.Results = ambig.Candidates
		return res
	}

	var queryErr *pool.QueryExecutionError
	if errors.As(err, &queryErr) {
		return errorResult(fmt.Sprintf("Statement failed: %v", queryErr.Err))
	}

	var reasoningErr *ReasoningServiceError
	if errors.As(err, &reasoningErr) {
		return errorResult("I couldn't work out what to do with that request. Please rephrase it.")
	}

	switch {
	case errors.Is(err, pool.ErrInvalidName):
		return errorResult("That database name is invalid. Names must start with a letter or underscore and use only letters, digits, underscores, or $.")
	case errors.Is(err, pool.ErrDuplicateName):
		return errorResult("A database with that name already exists.")
	case errors.Is(err, pool.ErrDatabaseNotFound):
		return errorResult("I couldn't find that database. Try \"list my databases\".")
	case errors.Is(err, pool.ErrConnection):
		return errorResult("I couldn't connect to the database. Please try again.")
	case errors.Is(err, ErrNoTarget):
		return errorResult("I'm not sure which database you mean. Create one first, or name one explicitly.")
	case errors.Is(err, ErrUnsafeSQL):
		return errorResult("That statement contains operations I won't run.")
	case errors.Is(err, ErrEmptyStatement):
		return errorResult("There were no executable SQL statements in that request.")
	}

	return errorResult("Something went wrong handling that request.")
}
