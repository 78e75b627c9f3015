package main

import (
	"fmt"
	"strings"

	"askdb/internal/pool"
	"askdb/internal/types"

	"github.com/jedib0t/go-pretty/v6/table"
)

// renderResults formats an ActionResult's payload for terminal display.
// Query rows become a table; schemas and database lists become short
// summaries. Returns "" when there is nothing beyond the message.
func renderResults(result types.ActionResult) string {
	switch payload := result.Results.(type) {
	case *pool.Result:
		if payload == nil || len(payload.Rows) == 0 {
			return ""
		}
		return renderRowTable(payload.Columns, payload.Rows)
	case *pool.Schema:
		if payload == nil {
			return ""
		}
		return renderSchema(payload)
	case []string:
		if len(payload) == 0 {
			return ""
		}
		var b strings.Builder
		for _, name := range payload {
			fmt.Fprintf(&b, "  - %s\n", name)
		}
		return strings.TrimRight(b.String(), "\n")
	case []types.DatabaseReference:
		var b strings.Builder
		for _, ref := range payload {
			fmt.Fprintf(&b, "  - %s\n", ref.DisplayName)
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return ""
}

func renderRowTable(cols []string, rows []pool.Row) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(cols))
	for i, col := range cols {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		tr := make(table.Row, len(cols))
		for i, col := range cols {
			val := row[col]
			if val == nil {
				val = "NULL"
			}
			tr[i] = val
		}
		t.AppendRow(tr)
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d rows", len(rows))})

	return t.Render()
}

func renderSchema(schema *pool.Schema) string {
	var b strings.Builder
	for _, tbl := range schema.Tables {
		fmt.Fprintf(&b, "  %s\n", tbl.Name)
		for _, col := range tbl.Columns {
			marker := ""
			if col.PrimaryKey {
				marker = " PK"
			}
			fmt.Fprintf(&b, "    %-20s %s%s\n", col.Name, col.Type, marker)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
