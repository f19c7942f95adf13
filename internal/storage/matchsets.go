// internal/storage/matchsets.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"cardtrade-workers/internal/models"
)

// MatchSetStore persists per-user match sets. A match set is a header row
// carrying lifecycle status and run sequence, plus the ranked candidate
// rows of the most recent completed run.
//
// Run sequences come from a global Postgres sequence, so a run that
// started later always carries a higher number. Replace refuses to write
// over a newer run, which makes the replacement safe under concurrent
// recomputes without any distributed locking.
type MatchSetStore struct {
	db *sql.DB
}

func NewMatchSetStore(db *sql.DB) *MatchSetStore {
	return &MatchSetStore{db: db}
}

// NextRunSequence allocates the sequence number for a new run. Taken at
// run start, before any loading, so an interleaved newer run always wins.
func (s *MatchSetStore) NextRunSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT nextval('match_run_seq')`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocate run sequence: %w", err)
	}
	return seq, nil
}

// Replace swaps a user's match set for the given run's results in one
// transaction. It returns false without writing when a run with a higher
// or equal sequence already landed.
func (s *MatchSetStore) Replace(ctx context.Context, userID string, runSeq int64, candidates []models.MatchCandidate) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin match set replace: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `
		SELECT run_sequence FROM match_sets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return false, fmt.Errorf("read match set header for %s: %w", userID, err)
	}
	if current >= runSeq {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO match_sets (user_id, status, run_sequence, computed_at)
		VALUES ($1, 'fresh', $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET status = 'fresh', run_sequence = $2, computed_at = NOW()`, userID, runSeq)
	if err != nil {
		return false, fmt.Errorf("upsert match set header for %s: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_candidates WHERE user_id = $1`, userID); err != nil {
		return false, fmt.Errorf("clear match candidates for %s: %w", userID, err)
	}

	for rank, c := range candidates {
		offersToUser, err := json.Marshal(c.OffersToUser)
		if err != nil {
			return false, fmt.Errorf("encode offers for %s: %w", userID, err)
		}
		offersToCandidate, err := json.Marshal(c.OffersToCandidate)
		if err != nil {
			return false, fmt.Errorf("encode offers for %s: %w", userID, err)
		}
		factors, err := json.Marshal(c.Factors)
		if err != nil {
			return false, fmt.Errorf("encode factors for %s: %w", userID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO match_candidates
				(user_id, candidate_id, rank, score, user_value, candidate_value,
				 offers_to_user, offers_to_candidate, factors, distance_km, local)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			userID, c.CandidateID, rank, c.Score, c.UserValue, c.CandidateValue,
			offersToUser, offersToCandidate, factors, c.DistanceKM, c.Local)
		if err != nil {
			return false, fmt.Errorf("insert match candidate %s/%s: %w", userID, c.CandidateID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit match set replace for %s: %w", userID, err)
	}
	return true, nil
}

// Get returns a user's stored candidates in rank order plus the set's
// lifecycle status. A user with no stored set gets an empty slice and
// stale status.
func (s *MatchSetStore) Get(ctx context.Context, userID string) ([]models.MatchCandidate, models.MatchSetStatus, error) {
	var status string
	var runSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT status, run_sequence FROM match_sets WHERE user_id = $1`, userID).Scan(&status, &runSeq)
	if err == sql.ErrNoRows {
		return nil, models.MatchSetStale, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read match set header for %s: %w", userID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, score, user_value, candidate_value,
		       offers_to_user, offers_to_candidate, factors, distance_km, local
		FROM match_candidates
		WHERE user_id = $1
		ORDER BY rank`, userID)
	if err != nil {
		return nil, "", fmt.Errorf("read match candidates for %s: %w", userID, err)
	}
	defer rows.Close()

	var candidates []models.MatchCandidate
	for rows.Next() {
		c := models.MatchCandidate{UserID: userID, RunSequence: runSeq}
		var offersToUser, offersToCandidate, factors []byte
		if err := rows.Scan(&c.CandidateID, &c.Score, &c.UserValue, &c.CandidateValue,
			&offersToUser, &offersToCandidate, &factors, &c.DistanceKM, &c.Local); err != nil {
			return nil, "", fmt.Errorf("scan match candidate: %w", err)
		}
		if err := json.Unmarshal(offersToUser, &c.OffersToUser); err != nil {
			return nil, "", fmt.Errorf("decode offers for %s: %w", userID, err)
		}
		if err := json.Unmarshal(offersToCandidate, &c.OffersToCandidate); err != nil {
			return nil, "", fmt.Errorf("decode offers for %s: %w", userID, err)
		}
		if err := json.Unmarshal(factors, &c.Factors); err != nil {
			return nil, "", fmt.Errorf("decode factors for %s: %w", userID, err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	return candidates, models.MatchSetStatus(status), nil
}

// MarkStale flags a user's match set as stale without touching the stored
// candidates. Missing sets are a no-op.
func (s *MatchSetStore) MarkStale(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE match_sets SET status = 'stale' WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("mark match set stale for %s: %w", userID, err)
	}
	return nil
}

// UsersReferencing returns the users whose stored match sets contain the
// given user as a candidate. These are the sets a list mutation
// invalidates beyond the mutating user's own.
func (s *MatchSetStore) UsersReferencing(ctx context.Context, candidateID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM match_candidates WHERE candidate_id = $1`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("find sets referencing %s: %w", candidateID, err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan referencing user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
