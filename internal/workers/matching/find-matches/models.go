// internal/workers/matching/find-matches/models.go
package findmatches

import "cardtrade-workers/internal/models"

type Input struct {
	UserID  string        `json:"userId"`
	Trigger string        `json:"trigger,omitempty"`
	Scope   *models.Scope `json:"scope,omitempty"`
}

// Output summarizes a completed matching run for the workflow. The full
// candidate set lives in the match store; only the headline numbers flow
// back through process variables.
type Output struct {
	UserID      string `json:"userId"`
	MatchCount  int    `json:"matchCount"`
	NewMatches  int    `json:"newMatches"`
	TopScore    int    `json:"topScore"`
	Evaluated   int    `json:"evaluated"`
	Excluded    int    `json:"excluded"`
	RunSequence int64  `json:"runSequence"`
	CompletedAt string `json:"completedAt"`
}
