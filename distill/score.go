package distill

import "strings"

// Phrases that signal explicit search intent and markers that signal a
// crowded head term. Both match as substrings, like the demand-side tools
// they were tuned against.
var (
	intentPhrases      = []string{"how to", "step by step", "tutorial", "guide", "without", "for beginners"}
	competitionMarkers = []string{"best", "top", "review", "vs", "comparison"}
)

// LongTailScore weights a keyword by specificity: more words score higher,
// explicit intent raises the weight, crowded competition markers lower it.
func LongTailScore(keyword string) float64 {
	kw := strings.ToLower(keyword)
	words := len(strings.Fields(kw))

	score := 1.0
	switch {
	case words >= 5:
		score *= 3.0
	case words == 4:
		score *= 2.5
	case words == 3:
		score *= 2.0
	}
	for _, phrase := range intentPhrases {
		if strings.Contains(kw, phrase) {
			score *= 1.5
			break
		}
	}
	for _, marker := range competitionMarkers {
		if strings.Contains(kw, marker) {
			score *= 0.6
			break
		}
	}
	return score
}
