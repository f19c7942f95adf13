// internal/recompute/invalidator.go
package recompute

import (
	"context"
	"time"

	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/common/metrics"
	"cardtrade-workers/internal/models"
)

// HaveItemReader loads the item IDs on a user's active have list.
type HaveItemReader interface {
	ActiveHaveItemIDs(ctx context.Context, userID string) ([]string, error)
}

// IndexRebuilder reconciles a user's reverse index entries.
type IndexRebuilder interface {
	RebuildForUser(ctx context.Context, userID string, itemIDs []string) error
}

// SetInvalidator flags stored sets stale and finds affected users.
type SetInvalidator interface {
	MarkStale(ctx context.Context, userID string) error
	UsersReferencing(ctx context.Context, candidateID string) ([]string, error)
}

// Publisher enqueues recompute requests.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// ActivityFilter narrows a user ID list to users active since a cutoff.
type ActivityFilter interface {
	FilterActive(ctx context.Context, userIDs []string, since time.Time) ([]string, error)
}

// Invalidator reacts to want/have list mutations: it keeps the reverse
// index in step with have lists, flags the mutating user's set stale, and
// fans the staleness out to every stored set referencing that user.
// Stale sets stay readable until their recompute lands.
type Invalidator struct {
	lists  HaveItemReader
	index  IndexRebuilder
	sets   SetInvalidator
	queue  Publisher
	logger logger.Logger

	activity ActivityFilter
	window   time.Duration
}

func NewInvalidator(lists HaveItemReader, index IndexRebuilder, sets SetInvalidator, queue Publisher, log logger.Logger) *Invalidator {
	return &Invalidator{
		lists:  lists,
		index:  index,
		sets:   sets,
		queue:  queue,
		logger: log.WithFields(map[string]interface{}{"component": "invalidator"}),
	}
}

// SkipDormant drops referencing users inactive for longer than window
// from the recompute fan-out. Their sets still go stale; the recompute
// happens when something of theirs changes. Call before first use.
func (inv *Invalidator) SkipDormant(users ActivityFilter, window time.Duration) {
	inv.activity = users
	inv.window = window
}

// OnListMutated handles one list mutation for a user. Have mutations
// additionally rebuild the user's reverse index entries before anything
// is flagged, so candidate discovery never serves removed items.
func (inv *Invalidator) OnListMutated(ctx context.Context, userID string, kind models.ListKind) error {
	if kind == models.ListKindHave {
		itemIDs, err := inv.lists.ActiveHaveItemIDs(ctx, userID)
		if err != nil {
			return errors.NewInvalidationFailedError(userID, err)
		}
		if err := inv.index.RebuildForUser(ctx, userID, itemIDs); err != nil {
			return errors.NewInvalidationFailedError(userID, err)
		}
	}

	reason := ReasonWantChanged
	if kind == models.ListKindHave {
		reason = ReasonHaveChanged
	}
	if err := inv.staleAndEnqueue(ctx, userID, reason); err != nil {
		return err
	}

	referencing, err := inv.sets.UsersReferencing(ctx, userID)
	if err != nil {
		return errors.NewInvalidationFailedError(userID, err)
	}

	active := map[string]bool{}
	if inv.activity != nil {
		ids, err := inv.activity.FilterActive(ctx, referencing, time.Now().Add(-inv.window))
		if err != nil {
			return errors.NewInvalidationFailedError(userID, err)
		}
		for _, id := range ids {
			active[id] = true
		}
	}

	skipped := 0
	for _, other := range referencing {
		if other == userID {
			continue
		}
		if inv.activity != nil && !active[other] {
			if err := inv.sets.MarkStale(ctx, other); err != nil {
				return errors.NewInvalidationFailedError(other, err)
			}
			metrics.MatchSetsStale.Inc()
			skipped++
			continue
		}
		if err := inv.staleAndEnqueue(ctx, other, ReasonReferencing); err != nil {
			return err
		}
	}

	inv.logger.Info("list mutation processed", map[string]interface{}{
		"userId":      userID,
		"kind":        string(kind),
		"invalidated": len(referencing) + 1,
		"dormant":     skipped,
	})
	return nil
}

func (inv *Invalidator) staleAndEnqueue(ctx context.Context, userID, reason string) error {
	if err := inv.sets.MarkStale(ctx, userID); err != nil {
		return errors.NewInvalidationFailedError(userID, err)
	}
	metrics.MatchSetsStale.Inc()

	if err := inv.queue.Publish(ctx, NewMessage(userID, reason)); err != nil {
		return errors.NewInvalidationFailedError(userID, err)
	}
	return nil
}
