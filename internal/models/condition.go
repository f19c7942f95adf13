// internal/models/condition.go
package models

// Condition is the ordered quality grade of a physical card.
// The integer rank is part of the scoring contract: the condition gap of an
// offered card is its rank minus the rank required by the matching want.
type Condition int

const (
	ConditionDamaged Condition = iota
	ConditionHeavilyPlayed
	ConditionModeratelyPlayed
	ConditionLightlyPlayed
	ConditionNearMint
)

var conditionNames = map[Condition]string{
	ConditionDamaged:          "damaged",
	ConditionHeavilyPlayed:    "heavily_played",
	ConditionModeratelyPlayed: "moderately_played",
	ConditionLightlyPlayed:    "lightly_played",
	ConditionNearMint:         "near_mint",
}

func (c Condition) String() string {
	if name, ok := conditionNames[c]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether c is one of the five defined tiers.
func (c Condition) Valid() bool {
	return c >= ConditionDamaged && c <= ConditionNearMint
}

// Gap returns the signed condition gap against a required minimum tier.
// Zero or positive means the card satisfies the minimum.
func (c Condition) Gap(min Condition) int {
	return int(c) - int(min)
}

// ParseCondition maps the stored string form back to a Condition.
// Unrecognized values fall back to Damaged so a bad row can only ever
// penalize a score, never inflate it.
func ParseCondition(s string) Condition {
	for c, name := range conditionNames {
		if name == s {
			return c
		}
	}
	return ConditionDamaged
}
