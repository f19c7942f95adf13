// internal/engine/engine.go
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"cardtrade-workers/internal/common/config"
	"cardtrade-workers/internal/common/errors"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/common/metrics"
	"cardtrade-workers/internal/matching"
	"cardtrade-workers/internal/models"
	"cardtrade-workers/internal/scope"
)

// ListReader loads a user's filtered want and have lists.
type ListReader interface {
	WantEntries(ctx context.Context, userID string) ([]models.WantEntry, error)
	HaveEntries(ctx context.Context, userID string) ([]models.HaveEntry, error)
}

// CandidateIndex discovers users holding any of the wanted items.
type CandidateIndex interface {
	UsersWithAnyItem(ctx context.Context, itemIDs []string) ([]string, error)
}

// ScopeFilter narrows candidates before any scoring happens.
type ScopeFilter interface {
	Apply(ctx context.Context, candidateIDs []string, p scope.Params) ([]string, error)
}

// ProfileReader loads collaborator-owned user profile data.
type ProfileReader interface {
	Profile(ctx context.Context, userID string) (*models.Profile, error)
	Profiles(ctx context.Context, userIDs []string) (map[string]*models.Profile, error)
}

// MatchWriter persists completed runs.
type MatchWriter interface {
	NextRunSequence(ctx context.Context) (int64, error)
	Replace(ctx context.Context, userID string, runSeq int64, candidates []models.MatchCandidate) (bool, error)
}

// Evaluator scores one user pair.
type Evaluator interface {
	Evaluate(ctx context.Context, subject, candidate matching.Party) *models.MatchCandidate
}

// RunOptions tune a single run. The zero value means engine defaults.
type RunOptions struct {
	// Scope overrides the subject's profile radius for this run.
	Scope *models.Scope
	// Trigger labels the run for metrics: "list-change", "scheduled",
	// "manual".
	Trigger string
	// CandidateCap overrides the configured cap, used by retry paths
	// that shrink the workload.
	CandidateCap int
}

// Result is the outcome of one completed run.
type Result struct {
	Candidates  []models.MatchCandidate
	RunSequence int64
	Evaluated   int
	// Excluded counts candidates dropped before scoring: the subject
	// itself appearing in the index, or a block in either direction.
	Excluded  int
	Persisted bool
}

// Engine orchestrates a full matching run for one user: load lists,
// discover candidates through the reverse index, narrow by scope,
// evaluate pairs, rank, truncate, and atomically replace the stored set.
//
// Runs for the same user are serialized through a per-user mutex;
// concurrent runs for different users proceed independently. A run that
// exceeds its wall-clock budget aborts without persisting, leaving the
// previous stored set untouched.
type Engine struct {
	lists     ListReader
	index     CandidateIndex
	scope     ScopeFilter
	users     ProfileReader
	writer    MatchWriter
	evaluator Evaluator
	cfg       config.MatchingConfig
	logger    logger.Logger

	mu    sync.Mutex
	inRun map[string]*sync.Mutex
}

func New(lists ListReader, index CandidateIndex, scopeFilter ScopeFilter, users ProfileReader,
	writer MatchWriter, evaluator Evaluator, cfg config.MatchingConfig, log logger.Logger) *Engine {
	return &Engine{
		lists:     lists,
		index:     index,
		scope:     scopeFilter,
		users:     users,
		writer:    writer,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "match-engine"}),
		inRun:     make(map[string]*sync.Mutex),
	}
}

// FindMatchesForUser executes one matching run end to end. It returns the
// ranked candidate set that was persisted, or an error leaving the
// previous stored set in place.
func (e *Engine) FindMatchesForUser(ctx context.Context, userID string, opts RunOptions) (*Result, error) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if opts.Trigger == "" {
		opts.Trigger = "manual"
	}

	start := time.Now()
	budget := e.cfg.RunBudget()
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	result, err := e.run(ctx, userID, opts)
	if err != nil {
		code := errors.ErrCodeListStorageFailed
		if stdErr, ok := err.(*errors.StandardError); ok {
			code = stdErr.Code
		}
		metrics.MatchRunsFailed.WithLabelValues(opts.Trigger, string(code)).Inc()
		return nil, err
	}

	metrics.MatchRunsCompleted.WithLabelValues(opts.Trigger).Inc()
	metrics.MatchRunDuration.WithLabelValues(opts.Trigger).Observe(time.Since(start).Seconds())
	metrics.CandidatesEvaluated.Observe(float64(result.Evaluated))

	e.logger.Info("matching run completed", map[string]interface{}{
		"userId":      userID,
		"trigger":     opts.Trigger,
		"evaluated":   result.Evaluated,
		"matches":     len(result.Candidates),
		"runSequence": result.RunSequence,
		"durationMs":  time.Since(start).Milliseconds(),
	})
	return result, nil
}

func (e *Engine) run(ctx context.Context, userID string, opts RunOptions) (*Result, error) {
	runSeq, err := e.writer.NextRunSequence(ctx)
	if err != nil {
		return nil, errors.NewMatchPersistFailedError(userID, err)
	}

	subject, err := e.loadParty(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := validateScope(subject, opts.Scope); err != nil {
		return nil, err
	}

	// Without both list sides no bidirectional trade can exist; persist
	// an empty fresh set rather than leaving the old one around.
	if len(subject.Wants) == 0 || len(subject.Haves) == 0 {
		return e.persist(ctx, userID, runSeq, nil, 0, 0)
	}

	candidateIDs, err := e.discover(ctx, subject, opts)
	if err != nil {
		return nil, err
	}

	evaluated, excluded, candidates, err := e.evaluateAll(ctx, subject, candidateIDs, runSeq)
	if err != nil {
		return nil, err
	}

	rankCandidates(candidates)
	maxResults := e.cfg.MaxResults
	if maxResults > 0 && len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	return e.persist(ctx, userID, runSeq, candidates, evaluated, excluded)
}

func (e *Engine) loadParty(ctx context.Context, userID string) (matching.Party, error) {
	wants, err := e.lists.WantEntries(ctx, userID)
	if err != nil {
		return matching.Party{}, errors.NewListStorageFailedError(userID, err)
	}
	haves, err := e.lists.HaveEntries(ctx, userID)
	if err != nil {
		return matching.Party{}, errors.NewListStorageFailedError(userID, err)
	}
	profile, err := e.users.Profile(ctx, userID)
	if err != nil {
		return matching.Party{}, errors.NewListStorageFailedError(userID, err)
	}
	return matching.Party{UserID: userID, Wants: wants, Haves: haves, Profile: profile}, nil
}

// discover produces the scoped candidate ID list: reverse index union,
// capped, then narrowed by geo, community and recency in one query.
func (e *Engine) discover(ctx context.Context, subject matching.Party, opts RunOptions) ([]string, error) {
	itemIDs := make([]string, 0, len(subject.Wants))
	seen := make(map[string]bool, len(subject.Wants))
	for _, w := range subject.Wants {
		if !seen[w.ItemID] {
			seen[w.ItemID] = true
			itemIDs = append(itemIDs, w.ItemID)
		}
	}

	candidateIDs, err := e.index.UsersWithAnyItem(ctx, itemIDs)
	if err != nil {
		return nil, errors.NewIndexLookupFailedError(err)
	}

	limit := e.cfg.CandidateCap
	if opts.CandidateCap > 0 {
		limit = opts.CandidateCap
	}
	if limit > 0 && len(candidateIDs) > limit {
		candidateIDs = candidateIDs[:limit]
	}

	params := e.scopeParams(subject, opts.Scope)
	scoped, err := e.scope.Apply(ctx, candidateIDs, params)
	if err != nil {
		return nil, errors.NewScopeFilterFailedError(err)
	}
	return scoped, nil
}

// validateScope rejects run scopes the filter cannot express.
func validateScope(subject matching.Party, s *models.Scope) error {
	if s == nil {
		return nil
	}
	if s.RadiusKM != nil {
		if *s.RadiusKM <= 0 {
			return errors.NewInvalidScopeError("radius must be positive")
		}
		if subject.Profile == nil || subject.Profile.Coordinates == nil {
			return errors.NewInvalidScopeError("radius scope requires profile coordinates")
		}
	}
	if s.Community != nil && *s.Community == "" {
		return errors.NewInvalidScopeError("community must not be empty")
	}
	return nil
}

// scopeParams resolves precedence: an explicit run scope wins, then the
// subject's profile radius, then the configured default.
func (e *Engine) scopeParams(subject matching.Party, s *models.Scope) scope.Params {
	params := scope.Params{
		ActiveSince: time.Now().UTC().Add(-e.cfg.RecencyThreshold()),
	}
	if subject.Profile != nil {
		params.Center = subject.Profile.Coordinates
	}

	if s != nil {
		params.RadiusKM = s.RadiusKM
		params.Community = s.Community
		return params
	}

	if params.Center != nil {
		radius := float64(e.cfg.DefaultRadiusKM)
		if subject.Profile.TradeRadiusKM > 0 {
			radius = float64(subject.Profile.TradeRadiusKM)
		}
		if radius > 0 {
			params.RadiusKM = &radius
		}
	}
	return params
}

func (e *Engine) evaluateAll(ctx context.Context, subject matching.Party, candidateIDs []string, runSeq int64) (int, int, []models.MatchCandidate, error) {
	blocked := map[string]bool{}
	if subject.Profile != nil {
		blocked = subject.Profile.BlockedSet()
	}

	var keep []string
	for _, id := range candidateIDs {
		if id != subject.UserID && !blocked[id] {
			keep = append(keep, id)
		}
	}
	excluded := len(candidateIDs) - len(keep)

	profiles, err := e.users.Profiles(ctx, keep)
	if err != nil {
		return 0, 0, nil, errors.NewListStorageFailedError(subject.UserID, err)
	}

	evaluated := 0
	var matches []models.MatchCandidate
	for _, id := range keep {
		if err := ctx.Err(); err != nil {
			return 0, 0, nil, errors.NewRunBudgetExceededError(subject.UserID, e.cfg.RunBudget())
		}

		profile := profiles[id]
		if profile != nil && profile.BlockedSet()[subject.UserID] {
			excluded++
			continue
		}

		wants, err := e.lists.WantEntries(ctx, id)
		if err != nil {
			return 0, 0, nil, errors.NewListStorageFailedError(id, err)
		}
		haves, err := e.lists.HaveEntries(ctx, id)
		if err != nil {
			return 0, 0, nil, errors.NewListStorageFailedError(id, err)
		}

		evaluated++
		candidate := matching.Party{UserID: id, Wants: wants, Haves: haves, Profile: profile}
		if m := e.evaluator.Evaluate(ctx, subject, candidate); m != nil && m.Score >= e.cfg.MinQuality {
			m.RunSequence = runSeq
			matches = append(matches, *m)
		}
	}
	return evaluated, excluded, matches, nil
}

func (e *Engine) persist(ctx context.Context, userID string, runSeq int64, candidates []models.MatchCandidate, evaluated, excluded int) (*Result, error) {
	written, err := e.writer.Replace(ctx, userID, runSeq, candidates)
	if err != nil {
		return nil, errors.NewMatchPersistFailedError(userID, err)
	}
	if !written {
		return nil, errors.NewRunSupersededError(userID, runSeq)
	}
	return &Result{
		Candidates:  candidates,
		RunSequence: runSeq,
		Evaluated:   evaluated,
		Excluded:    excluded,
		Persisted:   true,
	}, nil
}

// rankCandidates orders by score, then combined value, then candidate ID.
// The final key makes the ordering total, so equal-quality runs always
// produce the same ranking.
func rankCandidates(candidates []models.MatchCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		ti, tj := candidates[i].TotalValue(), candidates[j].TotalValue()
		if ti != tj {
			return ti > tj
		}
		return candidates[i].CandidateID < candidates[j].CandidateID
	})
}

// userLock returns the mutex serializing runs for one user. Entries are
// never evicted: one mutex per user ever run this process, a few dozen
// bytes each, reset on restart. Eviction would need refcounting to avoid
// freeing a lock another goroutine holds.
func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.inRun[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.inRun[userID] = lock
	}
	return lock
}
