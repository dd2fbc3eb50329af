package biz

import (
	"sort"
	"strings"

	"Wayfarer/internal/model"
)

// OptionRanker orders rebooking options by passenger preference.
type OptionRanker struct{}

// NewOptionRanker creates an option ranker.
func NewOptionRanker() *OptionRanker {
	return &OptionRanker{}
}

// Rank is RankOptions.
func (r *OptionRanker) Rank(options []model.IrropsOption, prefs model.Preferences) []model.IrropsOption {
	return RankOptions(options, prefs)
}

// RankOptions returns a new slice ordered by:
//  1. options within the price ceiling before those above it,
//  2. options whose rebooked leg is on a preferred carrier first,
//  3. higher confidence first,
//  4. input order.
//
// Nothing is filtered out and the input slice is left untouched.
func RankOptions(options []model.IrropsOption, prefs model.Preferences) []model.IrropsOption {
	out := make([]model.IrropsOption, len(options))
	copy(out, options)

	preferred := make(map[string]struct{}, len(prefs.PreferredCarriers))
	for _, c := range prefs.PreferredCarriers {
		if c = strings.TrimSpace(c); c == "" {
			continue
		}
		preferred[strings.ToUpper(c)] = struct{}{}
	}

	withinBudget := func(o *model.IrropsOption) bool {
		return prefs.MaxPriceIncrease == nil || o.PriceChange.Amount <= *prefs.MaxPriceIncrease
	}
	// only the rebooked leg counts, untouched legs are the same in every option
	onPreferred := func(o *model.IrropsOption) bool {
		_, ok := preferred[strings.ToUpper(o.ReplacementCarrier())]
		return ok
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if wa, wb := withinBudget(a), withinBudget(b); wa != wb {
			return wa
		}
		if pa, pb := onPreferred(a), onPreferred(b); pa != pb {
			return pa
		}
		return a.Confidence > b.Confidence
	})

	return out
}
