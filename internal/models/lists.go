// internal/models/lists.go
package models

// LanguageAny matches a have entry in any language.
const LanguageAny = "any"

// WantEntry is a card a user wishes to acquire, with the constraints an
// offered copy must satisfy. Owned and edited by that user only.
type WantEntry struct {
	UserID       string    `json:"userId"`
	ItemID       string    `json:"itemId"`
	Quantity     int       `json:"quantity"`
	MinCondition Condition `json:"minCondition"`
	FoilRequired bool      `json:"foilRequired"`
	Language     string    `json:"language"`
	MaxValue     *float64  `json:"maxValue,omitempty"`
	Visible      bool      `json:"visible"`
}

// HaveEntry is a card a user owns and is willing to trade, derived from
// inventory. Active flips to false upstream when the owned quantity
// reaches zero.
type HaveEntry struct {
	UserID      string    `json:"userId"`
	ItemID      string    `json:"itemId"`
	Condition   Condition `json:"condition"`
	Foil        bool      `json:"foil"`
	Language    string    `json:"language"`
	MinValue    *float64  `json:"minValue,omitempty"`
	MatchesOnly bool      `json:"matchesOnly"`
	Active      bool      `json:"active"`
}

// ListKind identifies which of a user's two lists mutated.
type ListKind string

const (
	ListKindWant ListKind = "want"
	ListKindHave ListKind = "have"
)
