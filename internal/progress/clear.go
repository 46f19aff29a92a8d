package progress

import (
	"context"
	"fmt"

	"spotlx/internal/storage"
)

// Confirmer asks the operator to approve dropping tables. It returns true to
// proceed.
type Confirmer func(tables []string) bool

// Clear drops every table in tables and the progress table.
//
// Errors:
//   - Returns ErrNotConfirmed, before touching the store, when confirm is nil
//     or returns false.
//   - Returns the first drop error; earlier drops are not undone.
func Clear(ctx context.Context, m *storage.Managed, tables []string, confirm Confirmer) error {
	if confirm == nil || !confirm(tables) {
		return ErrNotConfirmed
	}
	return m.Do(ctx, func(s storage.FactStore) error {
		for _, t := range tables {
			if err := s.DropTable(ctx, t); err != nil {
				return fmt.Errorf("progress: clear: drop %s: %w", t, err)
			}
		}
		if err := s.DropProgressTable(ctx); err != nil {
			return fmt.Errorf("progress: clear: drop progress: %w", err)
		}
		return nil
	})
}
