package memory

import "unicode/utf8"

// ComputeSalience scores a summary's importance in [0,1] from its
// structured signals. Deterministic so re-summarizing the same window
// ranks the same.
func ComputeSalience(result SummaryResult) float64 {
	score := 0.0

	if result.Summary != "" {
		score += 0.15
	}

	factsCount := len(result.Facts)
	if factsCount > 3 {
		factsCount = 3
	}
	score += float64(factsCount) * 0.15

	commitCount := len(result.Commitments)
	if commitCount > 2 {
		commitCount = 2
	}
	score += float64(commitCount) * 0.20

	summaryLen := utf8.RuneCountInString(result.Summary)
	if summaryLen >= 200 {
		score += 0.10
	} else if summaryLen >= 100 {
		score += 0.05
	}

	if score != score || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
