package debate

import (
	"sort"

	"github.com/quorumlabs/committee/internal/models"
)

// Synthesize computes the committee's consensus from a set of final
// positions: the stance with the highest summed confidence wins, ties break
// by vote count and then by the fixed agent-priority order, so the outcome
// is deterministic for identical inputs.
//
// Consensus confidence is the mean confidence of the agents agreeing with
// the winning stance; everyone else lands in Dissent.
func Synthesize(positions map[string]models.Position, priority []string, method models.ConsensusMethod) *models.Consensus {
	if len(positions) == 0 {
		return nil
	}

	weights := make(map[models.Stance]float64)
	counts := make(map[models.Stance]int)
	voteWeights := make(map[string]float64, len(positions))
	for id, pos := range positions {
		weights[pos.Stance] += pos.Confidence
		counts[pos.Stance]++
		voteWeights[id] = pos.Confidence
	}

	winner := pickWinner(weights, counts, positions, priority)

	var confSum float64
	var agreeing int
	var dissent []string
	for id, pos := range positions {
		if pos.Stance == winner {
			confSum += pos.Confidence
			agreeing++
		} else {
			dissent = append(dissent, id)
		}
	}
	sort.Strings(dissent)

	confidence := 0.0
	if agreeing > 0 {
		confidence = confSum / float64(agreeing)
	}

	return &models.Consensus{
		FinalStance:         winner,
		Confidence:          confidence,
		Dissent:             dissent,
		VoteWeights:         voteWeights,
		Method:              method,
		CommonConcerns:      commonItems(positions, func(p models.Position) []string { return p.Concerns }),
		CommonOpportunities: commonItems(positions, func(p models.Position) []string { return p.Opportunities }),
	}
}

func pickWinner(weights map[models.Stance]float64, counts map[models.Stance]int, positions map[string]models.Position, priority []string) models.Stance {
	var tied []models.Stance
	best := -1.0
	for stance, weight := range weights {
		switch {
		case weight > best:
			best = weight
			tied = []models.Stance{stance}
		case weight == best:
			tied = append(tied, stance)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	// First tie-break: the stance with more votes behind it.
	mostVotes := 0
	for _, stance := range tied {
		if counts[stance] > mostVotes {
			mostVotes = counts[stance]
		}
	}
	var still []models.Stance
	for _, stance := range tied {
		if counts[stance] == mostVotes {
			still = append(still, stance)
		}
	}
	if len(still) == 1 {
		return still[0]
	}

	// Final tie-break: walk the fixed priority order and take the first
	// agent whose stance is still in contention.
	inContention := make(map[models.Stance]bool, len(still))
	for _, stance := range still {
		inContention[stance] = true
	}
	for _, id := range priority {
		if pos, ok := positions[id]; ok && inContention[pos.Stance] {
			return pos.Stance
		}
	}

	// Unreachable when priority covers all participants; fall back to the
	// lowest ordinal for stability.
	sort.Slice(still, func(i, j int) bool { return still[i] < still[j] })
	return still[0]
}

// Agreement is the confidence-weighted share of the modal stance: 1.0 means
// the whole committee's conviction sits on one stance.
func Agreement(positions map[string]models.Position) float64 {
	if len(positions) == 0 {
		return 0
	}
	weights := make(map[models.Stance]float64)
	total := 0.0
	for _, pos := range positions {
		weights[pos.Stance] += pos.Confidence
		total += pos.Confidence
	}
	if total == 0 {
		return 0
	}
	best := 0.0
	for _, weight := range weights {
		if weight > best {
			best = weight
		}
	}
	return best / total
}

// commonItems returns items raised by at least two agents, most cited first,
// capped at five. Order is deterministic: count desc, then lexical.
func commonItems(positions map[string]models.Position, pick func(models.Position) []string) []string {
	counts := make(map[string]int)
	for _, pos := range positions {
		seen := make(map[string]bool)
		for _, item := range pick(pos) {
			if !seen[item] {
				seen[item] = true
				counts[item]++
			}
		}
	}

	var items []string
	for item, n := range counts {
		if n >= 2 {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if counts[items[i]] != counts[items[j]] {
			return counts[items[i]] > counts[items[j]]
		}
		return items[i] < items[j]
	})
	if len(items) > 5 {
		items = items[:5]
	}
	return items
}
