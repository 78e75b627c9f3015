package chat

import (
	"context"
	"errors"
	"fmt"

	"askdb/internal/logging"
	"askdb/internal/pool"
	"askdb/internal/types"
)

// resolveTarget turns an action's explicit or implicit database reference
// into exactly one catalog-validated TenantDatabase.
//
// Explicit id beats explicit name; the catalog beats context for names
// (context is only a hint). With no explicit target: zero candidates is
// ErrNoTarget, one candidate is re-validated against the catalog and
// used, more than one raises AmbiguousReferenceError with the full list.
func (e *Engine) resolveTarget(ctx context.Context, owner, explicitID, explicitName string, refs []types.DatabaseReference) (types.TenantDatabase, error) {
	catalog := e.pool.Catalog()

	if explicitID != "" {
		db, err := catalog.ResolveID(ctx, owner, explicitID)
		if err != nil {
			return types.TenantDatabase{}, fmt.Errorf("database id %q: %w", explicitID, err)
		}
		return db, nil
	}

	if explicitName != "" {
		db, err := catalog.ResolveName(ctx, owner, explicitName)
		if err == nil {
			return db, nil
		}
		if !errors.Is(err, pool.ErrDatabaseNotFound) {
			return types.TenantDatabase{}, err
		}
		// Not in the catalog under that name; the name may be a display
		// name derived from context. Try the matching reference's id.
		for _, ref := range refs {
			if ref.DisplayName == explicitName {
				return catalog.ResolveID(ctx, owner, ref.DatabaseID)
			}
		}
		return types.TenantDatabase{}, fmt.Errorf("database %q: %w", explicitName, pool.ErrDatabaseNotFound)
	}

	switch len(refs) {
	case 0:
		return types.TenantDatabase{}, ErrNoTarget
	case 1:
		db, err := catalog.ResolveID(ctx, owner, refs[0].DatabaseID)
		if err != nil {
			return types.TenantDatabase{}, fmt.Errorf("database %q from context: %w", refs[0].DisplayName, err)
		}
		logging.ChatDebug("resolveTarget: single context candidate %s (%s)", db.Name, db.ID)
		return db, nil
	default:
		logging.Chat("resolveTarget: %d context candidates, refusing to guess", len(refs))
		return types.TenantDatabase{}, &AmbiguousReferenceError{Candidates: refs}
	}
}
