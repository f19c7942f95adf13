// internal/matching/evaluator.go
package matching

import (
	"context"
	"time"

	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/models"
)

// PriceSource resolves an item's current market value. nil means unknown;
// an unknown price degrades value-based components toward zero instead of
// failing the evaluation.
type PriceSource interface {
	Price(ctx context.Context, itemID string) (*float64, error)
}

// TrustSource resolves a user's reputation signal in [0,1].
type TrustSource interface {
	Score(ctx context.Context, userID string) (float64, error)
}

// Party is one side of an evaluation: a user with their filtered lists
// (wants visible-only, haves active-only) and collaborator profile data.
type Party struct {
	UserID  string
	Wants   []models.WantEntry
	Haves   []models.HaveEntry
	Profile *models.Profile
}

// Evaluator decides whether a bidirectional match exists between two users
// and computes its quality score. It is side-effect free: the only I/O is
// read-only price and trust lookups, and every lookup failure degrades to
// a safe default.
type Evaluator struct {
	prices          PriceSource
	trust           TrustSource
	trustBonus      TrustBonusFunc
	localityBonus   LocalityBonusFunc
	defaultRadiusKM int
	logger          logger.Logger
}

// EvaluatorOption customizes scoring hooks.
type EvaluatorOption func(*Evaluator)

// WithTrustBonus replaces the trust bonus curve.
func WithTrustBonus(fn TrustBonusFunc) EvaluatorOption {
	return func(e *Evaluator) { e.trustBonus = fn }
}

// WithLocalityBonus replaces the locality bonus curve.
func WithLocalityBonus(fn LocalityBonusFunc) EvaluatorOption {
	return func(e *Evaluator) { e.localityBonus = fn }
}

// WithDefaultRadius sets the trade radius used when a profile has none.
func WithDefaultRadius(km int) EvaluatorOption {
	return func(e *Evaluator) { e.defaultRadiusKM = km }
}

func NewEvaluator(prices PriceSource, trust TrustSource, log logger.Logger, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		prices:          prices,
		trust:           trust,
		trustBonus:      DefaultTrustBonus,
		localityBonus:   DefaultLocalityBonus,
		defaultRadiusKM: 50,
		logger:          log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns the match candidate between subject and candidate, or
// nil when no bidirectional trade exists. If either offer direction is
// empty there is no match; one-way opportunities are not reported.
// Rejecting self-matches is the caller's job.
func (e *Evaluator) Evaluate(ctx context.Context, subject, candidate Party) *models.MatchCandidate {
	offersToSubject := BuildOffers(subject.Wants, candidate.Haves)
	if len(offersToSubject) == 0 {
		return nil
	}
	offersToCandidate := BuildOffers(candidate.Wants, subject.Haves)
	if len(offersToCandidate) == 0 {
		return nil
	}

	subjectValue := e.priceOffers(ctx, offersToSubject)
	candidateValue := e.priceOffers(ctx, offersToCandidate)

	var subjectCoords, candidateCoords *models.Coordinates
	radius := e.defaultRadiusKM
	if subject.Profile != nil {
		subjectCoords = subject.Profile.Coordinates
		if subject.Profile.TradeRadiusKM > 0 {
			radius = subject.Profile.TradeRadiusKM
		}
	}
	if candidate.Profile != nil {
		candidateCoords = candidate.Profile.Coordinates
	}

	distance := Distance(subjectCoords, candidateCoords)
	local := distance != nil && *distance <= float64(radius)
	shared := sharedCommunities(subject.Profile, candidate.Profile)

	factors := models.QualityFactors{
		ValueBalance:    ValueBalance(subjectValue, candidateValue),
		TotalValue:      TotalValueScore(subjectValue + candidateValue),
		Variety:         VarietyScore(len(offersToSubject) + len(offersToCandidate)),
		ConditionCompat: ConditionScore(offersToSubject, offersToCandidate),
		TrustBonus:      clamp(e.trustBonus(e.trustOf(ctx, candidate.UserID)), 0, TrustBonusMax),
		LocalityBonus:   clamp(e.localityBonus(distance, local, len(shared)), 0, LocalityBonusMax),
	}

	return &models.MatchCandidate{
		UserID:            subject.UserID,
		CandidateID:       candidate.UserID,
		OffersToUser:      offersToSubject,
		OffersToCandidate: offersToCandidate,
		UserValue:         subjectValue,
		CandidateValue:    candidateValue,
		Score:             CompositeScore(factors),
		DistanceKM:        distance,
		Local:             local,
		SharedCommunities: shared,
		Factors:           factors,
		ComputedAt:        time.Now().UTC(),
	}
}

// priceOffers fills in prices on the offer slice and returns the side
// total. Lookup failures and unknown prices contribute zero.
func (e *Evaluator) priceOffers(ctx context.Context, offers []models.Offer) float64 {
	var total float64
	for i := range offers {
		price, err := e.prices.Price(ctx, offers[i].ItemID)
		if err != nil {
			e.logger.Debug("price lookup failed", map[string]interface{}{
				"itemId": offers[i].ItemID,
				"error":  err.Error(),
			})
			continue
		}
		if price == nil {
			continue
		}
		offers[i].Price = *price
		offers[i].PriceKnown = true
		total += *price
	}
	return total
}

func (e *Evaluator) trustOf(ctx context.Context, userID string) float64 {
	if e.trust == nil {
		return 0
	}
	score, err := e.trust.Score(ctx, userID)
	if err != nil {
		e.logger.Debug("trust lookup failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func sharedCommunities(a, b *models.Profile) []string {
	if a == nil || b == nil || len(a.Communities) == 0 || len(b.Communities) == 0 {
		return nil
	}
	set := make(map[string]bool, len(a.Communities))
	for _, c := range a.Communities {
		set[c] = true
	}
	var shared []string
	for _, c := range b.Communities {
		if set[c] {
			shared = append(shared, c)
		}
	}
	return shared
}
