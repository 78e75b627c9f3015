package chat

import (
	"regexp"
	"strings"
)

// Rule is one intent rule in the fallback table: if Pattern matches the
// message, Build constructs the action from the message and submatches.
// Rules are tried in order; the first match wins, and no match is a
// defined terminal outcome (a chat reply), never an implicit cascade.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Build   func(message string, m []string) Action
}

// MatchRules runs the message through the rule table in priority order.
func MatchRules(rules []Rule, message string) (Action, bool) {
	for _, rule := range rules {
		if m := rule.Pattern.FindStringSubmatch(message); m != nil {
			return rule.Build(message, m), true
		}
	}
	return nil, false
}

var (
	createRe  = regexp.MustCompile(`(?i)\b(?:create|make|new)\b.*\bdatabase\b(?:\s+(?:called|named))?\s+[` + "`" + `"']?([A-Za-z_][A-Za-z0-9_$]*)`)
	importRe  = regexp.MustCompile(`(?i)\bimport\b.*?([\w.-]+\.sql)\b`)
	listRe    = regexp.MustCompile(`(?i)\b(?:list|show|what)\b.*\bdatabases\b`)
	schemaRe  = regexp.MustCompile(`(?i)\b(?:schema|structure)\b(?:\s+(?:of|in|for))?(?:\s+(?:the|my))?\s*[` + "`" + `"']?([A-Za-z_][A-Za-z0-9_$]*)?`)
	rawSQLRe  = regexp.MustCompile(`(?i)^\s*(?:SELECT|INSERT|UPDATE|DELETE|CREATE\s+TABLE|DROP\s+TABLE|ALTER)\b`)
	showAllRe = regexp.MustCompile(`(?i)\b(?:show|list|get|display)\b.*?\ball\b\s+(\w+)`)
	countRe   = regexp.MustCompile(`(?i)\bcount\b(?:\s+(?:the|my|of|all))*\s+(\w+)`)
)

// DefaultRules is the fallback intent table, most specific first:
// create database, import file, list databases, schema, a message that
// already is SQL, show-all-rows, count-rows.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "create-database",
			Pattern: createRe,
			Build: func(_ string, m []string) Action {
				return CreateDatabaseAction{Name: m[1]}
			},
		},
		{
			Name:    "import-file",
			Pattern: importRe,
			Build: func(_ string, m []string) Action {
				return ImportFromFileAction{Filename: m[1]}
			},
		},
		{
			Name:    "list-databases",
			Pattern: listRe,
			Build: func(_ string, _ []string) Action {
				return ListDatabasesAction{}
			},
		},
		{
			Name:    "get-schema",
			Pattern: schemaRe,
			Build: func(_ string, m []string) Action {
				name := ""
				if len(m) > 1 {
					name = m[1]
				}
				return GetSchemaAction{DatabaseName: name}
			},
		},
		{
			Name:    "raw-sql",
			Pattern: rawSQLRe,
			Build: func(message string, _ []string) Action {
				return ExecuteQueryAction{SQL: strings.TrimSuffix(strings.TrimSpace(message), ";")}
			},
		},
		{
			Name:    "show-all",
			Pattern: showAllRe,
			Build: func(_ string, m []string) Action {
				return ExecuteQueryAction{SQL: "SELECT * FROM " + strings.ToLower(m[1])}
			},
		},
		{
			Name:    "count-rows",
			Pattern: countRe,
			Build: func(_ string, m []string) Action {
				table := strings.ToLower(m[1])
				if !strings.HasSuffix(table, "s") {
					table += "s"
				}
				return ExecuteQueryAction{SQL: "SELECT COUNT(*) AS count FROM " + table}
			},
		},
	}
}
