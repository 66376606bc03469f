package models

// Question is a single multiple-choice question. CorrectIndex never leaves the server
// before the turn's results are revealed.
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation,omitempty"`
	Category     string   `json:"category,omitempty"`
}

// IsCorrect reports whether answerIndex is this question's correct option.
func (q Question) IsCorrect(answerIndex int) bool {
	return answerIndex == q.CorrectIndex
}

// HasOption reports whether answerIndex addresses one of the options.
func (q Question) HasOption(answerIndex int) bool {
	return answerIndex >= 0 && answerIndex < len(q.Options)
}

// Quiz is an ordered question set produced by a generator.
type Quiz struct {
	Topic      string     `json:"topic"`
	Difficulty string     `json:"difficulty"`
	Questions  []Question `json:"questions"`
	Source     string     `json:"source"` // provider name, or "placeholder"
}
