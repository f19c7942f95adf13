// internal/storage/users.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"cardtrade-workers/internal/models"
)

// UserStore reads user profiles from Postgres. Profiles live in the
// platform's user service schema; the matcher only reads the columns it
// scores and filters on.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Profile loads a single user's profile. Missing coordinates come back as
// a nil pointer, not a zero value, so the geo layer can tell "unknown"
// from "null island".
func (s *UserStore) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	p := &models.Profile{UserID: userID}
	var lat, lon sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT lat, lon, trade_radius_km, communities, blocked, last_active_at, email, phone
		FROM user_profiles
		WHERE user_id = $1`, userID).Scan(
		&lat, &lon, &p.TradeRadiusKM, pq.Array(&p.Communities), pq.Array(&p.Blocked),
		&p.LastActiveAt, &p.Email, &p.Phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", userID, err)
	}
	if lat.Valid && lon.Valid {
		p.Coordinates = &models.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	return p, nil
}

// Profiles loads profiles for a batch of users in one query. Users with
// no profile row are simply absent from the result.
func (s *UserStore) Profiles(ctx context.Context, userIDs []string) (map[string]*models.Profile, error) {
	if len(userIDs) == 0 {
		return map[string]*models.Profile{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, lat, lon, trade_radius_km, communities, blocked, last_active_at, email, phone
		FROM user_profiles
		WHERE user_id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	profiles := make(map[string]*models.Profile, len(userIDs))
	for rows.Next() {
		p := &models.Profile{}
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&p.UserID, &lat, &lon, &p.TradeRadiusKM,
			pq.Array(&p.Communities), pq.Array(&p.Blocked), &p.LastActiveAt, &p.Email, &p.Phone); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if lat.Valid && lon.Valid {
			p.Coordinates = &models.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
		}
		profiles[p.UserID] = p
	}
	return profiles, rows.Err()
}

// FilterActive narrows a candidate list to users active since the given
// cutoff. Order of the input is preserved.
func (s *UserStore) FilterActive(ctx context.Context, userIDs []string, since time.Time) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM user_profiles
		WHERE user_id = ANY($1) AND last_active_at >= $2`, pq.Array(userIDs), since)
	if err != nil {
		return nil, fmt.Errorf("filter active users: %w", err)
	}
	defer rows.Close()

	active := make(map[string]bool, len(userIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		active[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, id := range userIDs {
		if active[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
