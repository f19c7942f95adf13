// internal/trust/trust.go
package trust

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "cardtrade:trust:"

// Source resolves user trust levels from the reputation table, cached in
// Redis. Trust is a normalized 0..1 value derived from completed trade
// feedback; users without a reputation row score 0.
type Source struct {
	db    *sql.DB
	redis *redis.Client
	ttl   time.Duration
}

func New(db *sql.DB, rdb *redis.Client, ttl time.Duration) *Source {
	return &Source{db: db, redis: rdb, ttl: ttl}
}

// Score returns the candidate's trust level in [0, 1].
func (s *Source) Score(ctx context.Context, userID string) (float64, error) {
	cacheKey := cacheKeyPrefix + userID
	if val, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
		if trust, err := strconv.ParseFloat(val, 64); err == nil {
			return trust, nil
		}
	}

	var trust float64
	err := s.db.QueryRowContext(ctx, `
		SELECT trust_level FROM user_reputation WHERE user_id = $1`, userID).Scan(&trust)
	if err == sql.ErrNoRows {
		trust = 0
	} else if err != nil {
		return 0, fmt.Errorf("load trust for %s: %w", userID, err)
	}

	if trust < 0 {
		trust = 0
	} else if trust > 1 {
		trust = 1
	}

	s.redis.Set(ctx, cacheKey, strconv.FormatFloat(trust, 'f', -1, 64), s.ttl)
	return trust, nil
}
