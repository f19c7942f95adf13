// internal/index/index.go
package index

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	itemKeyPrefix = "cardtrade:index:item:"
	userKeyPrefix = "cardtrade:index:user:"
)

// ReverseIndex maps item identifiers to the set of users whose active
// have list contains the item. It is the performance-critical candidate
// discovery path: one set lookup per wanted item instead of a scan over
// all users.
//
// Each user's presence under a single item is updated with one atomic set
// command; the index as a whole is not transactional across items, which
// is fine because the evaluator tolerates stale or missing candidates.
type ReverseIndex struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *ReverseIndex {
	return &ReverseIndex{rdb: rdb}
}

func itemKey(itemID string) string { return itemKeyPrefix + itemID }
func userKey(userID string) string { return userKeyPrefix + userID }

// Add records that userID has itemID available for trade.
func (ix *ReverseIndex) Add(ctx context.Context, itemID, userID string) error {
	pipe := ix.rdb.Pipeline()
	pipe.SAdd(ctx, itemKey(itemID), userID)
	pipe.SAdd(ctx, userKey(userID), itemID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index add %s/%s: %w", itemID, userID, err)
	}
	return nil
}

// Remove drops userID from itemID's entry.
func (ix *ReverseIndex) Remove(ctx context.Context, itemID, userID string) error {
	pipe := ix.rdb.Pipeline()
	pipe.SRem(ctx, itemKey(itemID), userID)
	pipe.SRem(ctx, userKey(userID), itemID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index remove %s/%s: %w", itemID, userID, err)
	}
	return nil
}

// UsersWithItem returns every user whose have list carries itemID.
func (ix *ReverseIndex) UsersWithItem(ctx context.Context, itemID string) ([]string, error) {
	users, err := ix.rdb.SMembers(ctx, itemKey(itemID)).Result()
	if err != nil {
		return nil, fmt.Errorf("index lookup %s: %w", itemID, err)
	}
	return users, nil
}

// UsersWithAnyItem returns the deduplicated union of users holding any of
// the given items, one pipelined round trip for the whole want set.
func (ix *ReverseIndex) UsersWithAnyItem(ctx context.Context, itemIDs []string) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	pipe := ix.rdb.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(itemIDs))
	for i, itemID := range itemIDs {
		cmds[i] = pipe.SMembers(ctx, itemKey(itemID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("index union lookup: %w", err)
	}

	seen := make(map[string]bool)
	var users []string
	for _, cmd := range cmds {
		for _, u := range cmd.Val() {
			if !seen[u] {
				seen[u] = true
				users = append(users, u)
			}
		}
	}
	return users, nil
}

// RebuildForUser reconciles a user's index entries against the current
// set of active have items, after a have-list mutation. Items no longer
// held are removed, new ones added; untouched items keep their entries so
// concurrent readers never observe the user vanishing from items they
// still hold.
func (ix *ReverseIndex) RebuildForUser(ctx context.Context, userID string, itemIDs []string) error {
	current, err := ix.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("index rebuild read %s: %w", userID, err)
	}

	next := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		next[id] = true
	}

	pipe := ix.rdb.Pipeline()
	for _, id := range current {
		if !next[id] {
			pipe.SRem(ctx, itemKey(id), userID)
			pipe.SRem(ctx, userKey(userID), id)
		}
	}
	for _, id := range itemIDs {
		pipe.SAdd(ctx, itemKey(id), userID)
		pipe.SAdd(ctx, userKey(userID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index rebuild %s: %w", userID, err)
	}
	return nil
}
