// internal/pricing/pricing.go
package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "cardtrade:price:"

// Source resolves item market prices with a Redis read-through cache over
// the pricing table. Cache misses and cache write failures fall through to
// Postgres silently; a lookup only errors when Postgres itself fails.
//
// Items with no price on file return nil, not an error, so the evaluator
// can degrade scoring instead of aborting a run.
type Source struct {
	db    *sql.DB
	redis *redis.Client
	ttl   time.Duration
}

func New(db *sql.DB, rdb *redis.Client, ttl time.Duration) *Source {
	return &Source{db: db, redis: rdb, ttl: ttl}
}

// Price returns the current market price for an item, or nil when the
// item is not priced.
func (s *Source) Price(ctx context.Context, itemID string) (*float64, error) {
	cacheKey := cacheKeyPrefix + itemID
	if val, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
		if price, err := strconv.ParseFloat(val, 64); err == nil {
			return &price, nil
		}
	}

	var price float64
	err := s.db.QueryRowContext(ctx, `
		SELECT price FROM item_prices WHERE item_id = $1`, itemID).Scan(&price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load price for %s: %w", itemID, err)
	}

	s.redis.Set(ctx, cacheKey, strconv.FormatFloat(price, 'f', -1, 64), s.ttl)
	return &price, nil
}
