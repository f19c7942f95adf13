// internal/storage/lists.go
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"cardtrade-workers/internal/models"
)

// ListStore reads want and have lists from Postgres. Rows with hidden or
// inactive flags are filtered at query time so callers only ever see
// tradeable entries.
type ListStore struct {
	db *sql.DB
}

func NewListStore(db *sql.DB) *ListStore {
	return &ListStore{db: db}
}

// WantEntries returns the visible want list for a user.
func (s *ListStore) WantEntries(ctx context.Context, userID string) ([]models.WantEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, item_id, quantity, min_condition, foil_required, language, max_value
		FROM want_entries
		WHERE user_id = $1 AND visible = TRUE`, userID)
	if err != nil {
		return nil, fmt.Errorf("load want entries for %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []models.WantEntry
	for rows.Next() {
		var e models.WantEntry
		var minCond string
		if err := rows.Scan(&e.UserID, &e.ItemID, &e.Quantity, &minCond, &e.FoilRequired, &e.Language, &e.MaxValue); err != nil {
			return nil, fmt.Errorf("scan want entry: %w", err)
		}
		e.MinCondition = models.ParseCondition(minCond)
		e.Visible = true
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HaveEntries returns the active have list for a user. Entries flagged
// matches_only are included; the flag only gates public display, not
// matching.
func (s *ListStore) HaveEntries(ctx context.Context, userID string) ([]models.HaveEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, item_id, condition, foil, language, min_value, matches_only
		FROM have_entries
		WHERE user_id = $1 AND active = TRUE`, userID)
	if err != nil {
		return nil, fmt.Errorf("load have entries for %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []models.HaveEntry
	for rows.Next() {
		var e models.HaveEntry
		var cond string
		if err := rows.Scan(&e.UserID, &e.ItemID, &cond, &e.Foil, &e.Language, &e.MinValue, &e.MatchesOnly); err != nil {
			return nil, fmt.Errorf("scan have entry: %w", err)
		}
		e.Condition = models.ParseCondition(cond)
		e.Active = true
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ActiveHaveItemIDs returns the distinct item IDs on a user's active have
// list, the shape the reverse index needs for a rebuild.
func (s *ListStore) ActiveHaveItemIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT item_id
		FROM have_entries
		WHERE user_id = $1 AND active = TRUE`, userID)
	if err != nil {
		return nil, fmt.Errorf("load have item ids for %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan have item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
