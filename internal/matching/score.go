// internal/matching/score.go
package matching

import (
	"math"

	"cardtrade-workers/internal/models"
)

// Score component bounds. The final score is the sum of all components
// clamped to [0, 100]; each component is clamped to its own band first, so
// the bands below are the complete contract between the components and the
// composite score.
const (
	ValueBalanceMax  = 40
	TotalValueMax    = 20
	VarietyMax       = 15
	ConditionMax     = 10
	ConditionMin     = -10
	TrustBonusMax    = 10
	LocalityBonusMax = 5

	ScoreMax = 100
)

// ValueBalance scores how evenly matched the two side values are, 0..40.
// A perfectly balanced trade scores the full 40; if either side sums to
// zero (all prices unknown) the component is zero.
func ValueBalance(valueA, valueB float64) int {
	if valueA <= 0 || valueB <= 0 {
		return 0
	}
	ratio := math.Min(valueA, valueB) / math.Max(valueA, valueB)
	return int(math.Round(float64(ValueBalanceMax) * ratio))
}

// TotalValueScore scores the combined size of the trade, 0..20, as a step
// function: bigger trades are worth more attention even when imbalanced.
func TotalValueScore(total float64) int {
	switch {
	case total >= 500:
		return 20
	case total >= 200:
		return 15
	case total >= 50:
		return 10
	case total <= 0:
		return 0
	default:
		return int(math.Floor(total / 5))
	}
}

// VarietyScore rewards multi-card trades, 0..15. Two points per card
// across both directions, capped.
func VarietyScore(offerCount int) int {
	v := 2 * offerCount
	if v > VarietyMax {
		return VarietyMax
	}
	if v < 0 {
		return 0
	}
	return v
}

// ConditionScore scores condition compatibility across both offer
// directions, -10..10. It starts at the maximum and subtracts five points
// per unit of negative gap on every offered card below its want's minimum
// tier. Positive gaps neither add nor subtract. The clamp keeps one badly
// graded card from sinking an otherwise strong match disproportionately.
func ConditionScore(offersA, offersB []models.Offer) int {
	score := ConditionMax
	for _, o := range offersA {
		if o.ConditionGap < 0 {
			score += 5 * o.ConditionGap
		}
	}
	for _, o := range offersB {
		if o.ConditionGap < 0 {
			score += 5 * o.ConditionGap
		}
	}
	return clamp(score, ConditionMin, ConditionMax)
}

// TrustBonusFunc maps the counterparty's trust score in [0,1] to bonus
// points. The evaluator clamps the result to [0, TrustBonusMax] whatever
// the hook returns.
type TrustBonusFunc func(trust float64) int

// LocalityBonusFunc maps proximity signals to bonus points. distanceKM is
// nil when either side has no coordinates. The evaluator clamps the result
// to [0, LocalityBonusMax].
type LocalityBonusFunc func(distanceKM *float64, local bool, sharedCommunities int) int

// DefaultTrustBonus is a linear curve over the trust band.
func DefaultTrustBonus(trust float64) int {
	if trust <= 0 {
		return 0
	}
	if trust > 1 {
		trust = 1
	}
	return int(math.Round(float64(TrustBonusMax) * trust))
}

// DefaultLocalityBonus grants the full bonus inside the subject's trade
// radius and a small one for a shared community without proximity data.
func DefaultLocalityBonus(distanceKM *float64, local bool, sharedCommunities int) int {
	if local {
		return LocalityBonusMax
	}
	if sharedCommunities > 0 {
		return 2
	}
	return 0
}

// CompositeScore sums the factor breakdown into the final 0..100 score.
func CompositeScore(f models.QualityFactors) int {
	sum := f.ValueBalance + f.TotalValue + f.Variety + f.ConditionCompat + f.TrustBonus + f.LocalityBonus
	return clamp(sum, 0, ScoreMax)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
