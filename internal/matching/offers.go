// internal/matching/offers.go
package matching

import "cardtrade-workers/internal/models"

// BuildOffers tests every card in the counterparty's have set against the
// receiver's want set and returns the qualifying offers. A card qualifies
// when the item matches, its foil flag satisfies the want (foil required
// means the card must be foil; otherwise any), and the want's language
// filter is "any" or equals the card's language. The condition gap is
// recorded on each offer but never filters: a below-minimum card stays in
// the offer set and pays for itself through ConditionScore.
//
// Each have entry contributes at most one offer even when several wants
// reference the same item; the want with the highest minimum condition the
// card still, or most nearly, satisfies decides the recorded gap.
func BuildOffers(wants []models.WantEntry, haves []models.HaveEntry) []models.Offer {
	if len(wants) == 0 || len(haves) == 0 {
		return nil
	}

	wantsByItem := make(map[string][]models.WantEntry, len(wants))
	for _, w := range wants {
		wantsByItem[w.ItemID] = append(wantsByItem[w.ItemID], w)
	}

	var offers []models.Offer
	for _, h := range haves {
		candidates, ok := wantsByItem[h.ItemID]
		if !ok {
			continue
		}

		matched := false
		bestGap := 0
		for _, w := range candidates {
			if w.FoilRequired && !h.Foil {
				continue
			}
			if w.Language != models.LanguageAny && w.Language != "" && w.Language != h.Language {
				continue
			}
			gap := h.Condition.Gap(w.MinCondition)
			if !matched || gap < bestGap {
				bestGap = gap
				matched = true
			}
		}
		if !matched {
			continue
		}

		offers = append(offers, models.Offer{
			ItemID:       h.ItemID,
			Condition:    h.Condition,
			Foil:         h.Foil,
			Language:     h.Language,
			ConditionGap: bestGap,
		})
	}
	return offers
}
