package main

import (
	"context"
	"time"

	"askdb/internal/history"
	"askdb/internal/logging"
	"askdb/internal/types"
)

// newTurn assembles the engine input for one message, loading the recent
// history window from the store. History persistence wraps the engine
// here in the caller; the engine itself never writes history.
func newTurn(ctx context.Context, store *history.Store, ownerID, conversationID, message string) types.Turn {
	turns, err := store.Recent(ctx, conversationID, cfg.Limits.ContextWindowTurns)
	if err != nil {
		logging.HistoryDebug("newTurn: failed to load history: %v", err)
	}
	return types.Turn{
		OwnerID:        ownerID,
		ConversationID: conversationID,
		Message:        message,
		History:        turns,
	}
}

// recordTurn appends the completed exchange to the history store so the
// next turn's context extraction can see it. Error results are recorded
// too; their prompts still carry referential context.
func recordTurn(ctx context.Context, store *history.Store, conversationID, ownerID, message string, result types.ActionResult) {
	turn := types.ConversationTurn{
		Prompt:     message,
		SQL:        result.SQL,
		DatabaseID: result.DatabaseID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.Append(ctx, conversationID, ownerID, turn, result.QueryType); err != nil {
		logging.History("recordTurn: append failed: %v", err)
	}
}
