package model

import "github.com/samber/lo"

// Outcome is the filtered result of a retrieval. It is either Found or NoMatches.
type Outcome interface {
	outcome()
}

// Found holds the matches that cleared the threshold, in backend order.
type Found struct {
	Namespace string
	Matches   []Match
}

// NoMatches means the query succeeded but nothing cleared the threshold.
type NoMatches struct {
	Namespace string
	Threshold float64
}

func (Found) outcome()     {}
func (NoMatches) outcome() {}

// FilterByThreshold keeps matches scoring at or above threshold. Order is preserved.
func FilterByThreshold(namespace string, matches []Match, threshold float64) Outcome {
	kept := lo.Filter(matches, func(m Match, _ int) bool {
		return m.Score >= threshold
	})
	if len(kept) == 0 {
		return NoMatches{Namespace: namespace, Threshold: threshold}
	}
	return Found{Namespace: namespace, Matches: kept}
}
