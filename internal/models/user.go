// internal/models/user.go
package models

import "time"

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Profile carries the collaborator-owned user data the matcher reads:
// location, trade radius, community membership, activity and contact
// details. Everything here is optional input; absence degrades scoring,
// it never fails a run.
type Profile struct {
	UserID        string       `json:"userId"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	TradeRadiusKM int          `json:"tradeRadiusKm"`
	Communities   []string     `json:"communities,omitempty"`
	Blocked       []string     `json:"blocked,omitempty"`
	LastActiveAt  time.Time    `json:"lastActiveAt"`
	Email         string       `json:"email,omitempty"`
	Phone         string       `json:"phone,omitempty"`
}

// BlockedSet returns the block list as a set for O(1) exclusion checks.
func (p *Profile) BlockedSet() map[string]bool {
	if len(p.Blocked) == 0 {
		return nil
	}
	set := make(map[string]bool, len(p.Blocked))
	for _, id := range p.Blocked {
		set[id] = true
	}
	return set
}
