// internal/models/match.go
package models

import "time"

// Offer is a single card one side would receive in a candidate trade.
type Offer struct {
	ItemID       string    `json:"itemId"`
	Condition    Condition `json:"condition"`
	Foil         bool      `json:"foil"`
	Language     string    `json:"language"`
	Price        float64   `json:"price"`
	PriceKnown   bool      `json:"priceKnown"`
	ConditionGap int       `json:"conditionGap"`
}

// QualityFactors decomposes a match score into its bounded components.
// The clamped sum of the six fields is the final score; they are reported
// for debuggability and are not used for ranking.
type QualityFactors struct {
	ValueBalance    int `json:"valueBalance"`    // 0..40
	TotalValue      int `json:"totalValue"`      // 0..20
	Variety         int `json:"variety"`         // 0..15
	ConditionCompat int `json:"conditionCompat"` // -10..10
	TrustBonus      int `json:"trustBonus"`      // 0..10
	LocalityBonus   int `json:"localityBonus"`   // 0..5
}

// MatchCandidate is one computed, ephemeral bidirectional trade
// opportunity. The full set for a user is recomputed wholesale per run and
// replaced atomically; individual candidates have no independent identity.
type MatchCandidate struct {
	UserID            string         `json:"userId"`
	CandidateID       string         `json:"candidateId"`
	OffersToUser      []Offer        `json:"offersToUser"`
	OffersToCandidate []Offer        `json:"offersToCandidate"`
	UserValue         float64        `json:"userValue"`
	CandidateValue    float64        `json:"candidateValue"`
	Score             int            `json:"score"`
	DistanceKM        *float64       `json:"distanceKm,omitempty"`
	Local             bool           `json:"local"`
	SharedCommunities []string       `json:"sharedCommunities,omitempty"`
	Factors           QualityFactors `json:"factors"`
	RunSequence       int64          `json:"runSequence"`
	ComputedAt        time.Time      `json:"computedAt"`
}

// TotalValue is the combined value of both sides, the secondary sort key.
func (m *MatchCandidate) TotalValue() float64 {
	return m.UserValue + m.CandidateValue
}

// MatchSetStatus is the lifecycle state of a user's stored match set.
// A stale set stays usable; there is no error state in the data model.
type MatchSetStatus string

const (
	MatchSetFresh MatchSetStatus = "fresh"
	MatchSetStale MatchSetStatus = "stale"
)

// Scope restricts candidate discovery before scoring. A nil *Scope means
// global. RadiusKM filters around the subject's own coordinates.
type Scope struct {
	RadiusKM  *float64 `json:"radiusKm,omitempty"`
	Community *string  `json:"community,omitempty"`
}
