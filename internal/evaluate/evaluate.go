// Package evaluate holds the pure scoring functions for answers: text
// normalization, fuzzy matching for written answers, and exact-set checks
// for choice answers. Nothing here touches storage or a clock.
package evaluate

import "prep-session-service/internal/domain"

// DefaultWrittenThreshold is the match percentage at or above which a
// written answer counts as correct when the template does not override it.
const DefaultWrittenThreshold = 80.0

// SingleChoice reports whether selectedIDs is exactly the one option flagged
// correct. Empty or multiple selections are simply wrong, never an error.
func SingleChoice(q domain.Question, selectedIDs []string) bool {
	if len(selectedIDs) != 1 {
		return false
	}
	correct := q.CorrectOptionIDs()
	return len(correct) == 1 && correct[0] == selectedIDs[0]
}

// MultiChoice reports whether the selected ids equal the correct-option id
// set exactly: no extras, no omissions. Duplicates in the selection collapse.
func MultiChoice(q domain.Question, selectedIDs []string) bool {
	correct := q.CorrectOptionIDs()
	if len(correct) == 0 {
		return false
	}

	want := make(map[string]struct{}, len(correct))
	for _, id := range correct {
		want[id] = struct{}{}
	}
	got := make(map[string]struct{}, len(selectedIDs))
	for _, id := range selectedIDs {
		got[id] = struct{}{}
	}
	if len(got) != len(want) {
		return false
	}
	for id := range want {
		if _, ok := got[id]; !ok {
			return false
		}
	}
	return true
}

// Written scores a free-text answer against the question's official answer.
// A missing official answer is treated as empty string and yields 0%; the
// caller surfaces that as a template configuration problem.
func Written(q domain.Question, userText string, threshold float64) (matchPercent float64, isCorrect bool) {
	if threshold <= 0 {
		threshold = DefaultWrittenThreshold
	}
	matchPercent = MatchPercent(userText, q.OfficialAnswer)
	return matchPercent, matchPercent >= threshold
}
