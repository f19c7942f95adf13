package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionOrdering(t *testing.T) {
	assert.True(t, ConditionDamaged < ConditionHeavilyPlayed)
	assert.True(t, ConditionHeavilyPlayed < ConditionModeratelyPlayed)
	assert.True(t, ConditionModeratelyPlayed < ConditionLightlyPlayed)
	assert.True(t, ConditionLightlyPlayed < ConditionNearMint)
}

func TestConditionGap(t *testing.T) {
	assert.Equal(t, 0, ConditionNearMint.Gap(ConditionNearMint))
	assert.Equal(t, 4, ConditionNearMint.Gap(ConditionDamaged))
	assert.Equal(t, -3, ConditionDamaged.Gap(ConditionLightlyPlayed))
	assert.Equal(t, -1, ConditionModeratelyPlayed.Gap(ConditionLightlyPlayed))
}

func TestParseCondition(t *testing.T) {
	assert.Equal(t, ConditionNearMint, ParseCondition("near_mint"))
	assert.Equal(t, ConditionLightlyPlayed, ParseCondition("lightly_played"))
	// unknown grades fall to the worst tier so they can only penalize
	assert.Equal(t, ConditionDamaged, ParseCondition("mint"))
	assert.Equal(t, ConditionDamaged, ParseCondition(""))
}

func TestConditionString(t *testing.T) {
	assert.Equal(t, "near_mint", ConditionNearMint.String())
	assert.Equal(t, "damaged", ConditionDamaged.String())
	assert.Equal(t, "unknown", Condition(9).String())
}

func TestConditionValid(t *testing.T) {
	assert.True(t, ConditionDamaged.Valid())
	assert.True(t, ConditionNearMint.Valid())
	assert.False(t, Condition(5).Valid())
	assert.False(t, Condition(-1).Valid())
}
