// internal/workers/matching/invalidate-matches/models.go
package invalidatematches

type Input struct {
	UserID   string `json:"userId"`
	ListKind string `json:"listKind"`
}

type Output struct {
	UserID      string `json:"userId"`
	ListKind    string `json:"listKind"`
	Invalidated bool   `json:"invalidated"`
	CompletedAt string `json:"completedAt"`
}
