package bins

import "sort"

// feeTiers are the supported fee-rate magnitudes in hundredths of a
// percent: 0.01%..0.09%, 0.1%..0.9%, 1%..9%, then 10%..50% in 5% steps.
var feeTiers = []int{
	1, 2, 3, 4, 5, 6, 7, 8, 9,
	10, 20, 30, 40, 50, 60, 70, 80, 90,
	100, 200, 300, 400, 500, 600, 700, 800, 900,
	1000, 1500, 2000, 2500, 3000, 3500, 4000, 4500, 5000,
}

var validTiers = func() map[int]bool {
	m := make(map[int]bool, len(feeTiers))
	for _, t := range feeTiers {
		m[t] = true
	}
	return m
}()

// Tiers returns the supported fee-rate magnitudes in ascending order.
func Tiers() []int {
	out := make([]int, len(feeTiers))
	copy(out, feeTiers)
	return out
}

// ValidTier reports whether tier is a supported signed fee tier.
// Positive tiers are long bins, negative tiers short bins.
func ValidTier(tier int) bool {
	return validTiers[abs(tier)]
}

func abs(tier int) int {
	if tier < 0 {
		return -tier
	}
	return tier
}

// sortByPriority orders tiers by ascending |tier|, the canonical
// allocation order within one side.
func sortByPriority(tiers []int) {
	sort.Slice(tiers, func(i, j int) bool {
		return abs(tiers[i]) < abs(tiers[j])
	})
}
