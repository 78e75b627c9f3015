// Package history provides the conversation history store and the
// context extractor that turns recent turns into ranked database
// references for disambiguation.
package history

import (
	"fmt"
	"regexp"

	"askdb/internal/logging"
	"askdb/internal/types"
)

// Name derivation patterns, tried in order: a creation statement in the
// turn's SQL, then a "database called X" phrase in the prompt.
var (
	createDBRe    = regexp.MustCompile(`(?i)CREATE\s+DATABASE\s+(?:IF\s+NOT\s+EXISTS\s+)?[\x60"']?([A-Za-z_][A-Za-z0-9_$]*)`)
	calledNameRe  = regexp.MustCompile(`(?i)database\s+(?:called|named)\s+[\x60"']?([A-Za-z_][A-Za-z0-9_$]*)`)
	defaultWindow = 10
)

// ExtractReferences scans the most recent window of turns and builds the
// ranked reference set: deduplicated by database id, most recently
// referenced first. Later turns referencing an already-seen id refresh
// its recency but keep the first-derived name.
//
// The output is a best-effort hint. Callers must re-validate resolved ids
// against the pool catalog before acting on them.
func ExtractReferences(turns []types.ConversationTurn, window int) []types.DatabaseReference {
	if window <= 0 {
		window = defaultWindow
	}
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	byID := make(map[string]*types.DatabaseReference)
	order := make([]string, 0, len(turns))

	for _, turn := range turns {
		if turn.DatabaseID == "" {
			continue
		}
		if ref, seen := byID[turn.DatabaseID]; seen {
			if turn.CreatedAt.After(ref.LastReferencedAt) {
				ref.LastReferencedAt = turn.CreatedAt
			}
			continue
		}
		byID[turn.DatabaseID] = &types.DatabaseReference{
			DatabaseID:       turn.DatabaseID,
			DisplayName:      deriveName(turn),
			LastReferencedAt: turn.CreatedAt,
		}
		order = append(order, turn.DatabaseID)
	}

	refs := make([]types.DatabaseReference, 0, len(order))
	for _, id := range order {
		refs = append(refs, *byID[id])
	}
	sortByRecency(refs)

	logging.HistoryDebug("extracted %d database references from %d turns", len(refs), len(turns))
	return refs
}

// deriveName picks a display name for a turn's database: creation SQL
// first, then the prompt phrasing, then a placeholder.
func deriveName(turn types.ConversationTurn) string {
	if m := createDBRe.FindStringSubmatch(turn.SQL); m != nil {
		return m[1]
	}
	if m := calledNameRe.FindStringSubmatch(turn.Prompt); m != nil {
		return m[1]
	}
	return fmt.Sprintf("database_%s", shortID(turn.DatabaseID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// sortByRecency orders references most recently referenced first. The
// input is small (bounded by the window) so insertion sort is fine.
func sortByRecency(refs []types.DatabaseReference) {
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j].LastReferencedAt.After(refs[j-1].LastReferencedAt); j-- {
			refs[j], refs[j-1] = refs[j-1], refs[j]
		}
	}
}
