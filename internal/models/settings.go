package models

import (
	"fmt"
	"strings"
)

const (
	DefaultQuestionCount = 10
	MaxQuestionCount     = 50
	MinTimeLimitSec      = 5
	MaxTimeLimitSec      = 120
)

var validDifficulties = map[string]bool{
	"easy":   true,
	"medium": true,
	"hard":   true,
}

// QuizSettings customizes the generated quiz and the turn timing of a session.
type QuizSettings struct {
	Topic         string `json:"topic"`         // free-form topic passed to the generator
	Difficulty    string `json:"difficulty"`    // one of easy, medium, hard; defaults to medium
	QuestionCount int    `json:"questionCount"` // number of questions; defaults to 10
	TimeLimitSec  int    `json:"timeLimitSec"`  // per-turn time limit; 0 uses the mode default
	Language      string `json:"language"`      // language hint for the generator; defaults to en
	Provider      string `json:"provider"`      // preferred generator provider, optional
}

// WithDefaults returns a copy with empty fields filled and out-of-range values clamped.
func (s QuizSettings) WithDefaults() QuizSettings {
	if strings.TrimSpace(s.Topic) == "" {
		s.Topic = "general knowledge"
	}
	s.Difficulty = strings.ToLower(strings.TrimSpace(s.Difficulty))
	if !validDifficulties[s.Difficulty] {
		s.Difficulty = "medium"
	}
	if s.QuestionCount <= 0 {
		s.QuestionCount = DefaultQuestionCount
	}
	if s.QuestionCount > MaxQuestionCount {
		s.QuestionCount = MaxQuestionCount
	}
	if s.TimeLimitSec != 0 {
		if s.TimeLimitSec < MinTimeLimitSec {
			s.TimeLimitSec = MinTimeLimitSec
		}
		if s.TimeLimitSec > MaxTimeLimitSec {
			s.TimeLimitSec = MaxTimeLimitSec
		}
	}
	if s.Language == "" {
		s.Language = "en"
	}
	return s
}

// Update applies a partial settings patch decoded from JSON.
// Keys that are absent or null are ignored and the old value persists.
func (s *QuizSettings) Update(patch map[string]interface{}) error {
	assignString := func(field *string, key string) error {
		if val, exists := patch[key]; exists && val != nil {
			str, ok := val.(string)
			if !ok {
				return fmt.Errorf("invalid type for %s", key)
			}
			*field = str
		}
		return nil
	}

	assignInt := func(field *int, key string, minVal, maxVal int) error {
		if val, exists := patch[key]; exists && val != nil {
			var n int
			switch v := val.(type) {
			case float64:
				n = int(v)
			case int:
				n = v
			default:
				return fmt.Errorf("invalid type for %s", key)
			}
			if n < minVal || n > maxVal {
				return fmt.Errorf("%s must be between %d and %d", key, minVal, maxVal)
			}
			*field = n
		}
		return nil
	}

	if err := assignString(&s.Topic, "topic"); err != nil {
		return err
	}
	if err := assignString(&s.Difficulty, "difficulty"); err != nil {
		return err
	}
	if s.Difficulty != "" && !validDifficulties[strings.ToLower(s.Difficulty)] {
		return fmt.Errorf("invalid difficulty %q", s.Difficulty)
	}
	if err := assignInt(&s.QuestionCount, "questionCount", 1, MaxQuestionCount); err != nil {
		return err
	}
	if err := assignInt(&s.TimeLimitSec, "timeLimitSec", 0, MaxTimeLimitSec); err != nil {
		return err
	}
	if err := assignString(&s.Language, "language"); err != nil {
		return err
	}
	return assignString(&s.Provider, "provider")
}
