// Package quiz produces the question set for a session from the configured providers.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jason-s-yu/trivia/internal/models"
	"go.opentelemetry.io/otel"
)

var (
	// ErrMalformedQuiz indicates provider output that did not yield a playable quiz.
	ErrMalformedQuiz = errors.New("malformed quiz")
	// ErrNoProviders indicates a chain with nothing to call.
	ErrNoProviders = errors.New("no quiz providers configured")
)

var tracer = otel.Tracer("github.com/jason-s-yu/trivia/internal/quiz")

// Generator produces a quiz for the given settings.
type Generator interface {
	GenerateQuiz(ctx context.Context, settings models.QuizSettings) (*models.Quiz, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, settings models.QuizSettings) (*models.Quiz, error)

func (f GeneratorFunc) GenerateQuiz(ctx context.Context, settings models.QuizSettings) (*models.Quiz, error) {
	return f(ctx, settings)
}

// Validate drops unplayable questions, trims the set to the requested count and fails
// when nothing playable remains.
func Validate(q *models.Quiz, settings models.QuizSettings) (*models.Quiz, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: empty", ErrMalformedQuiz)
	}
	kept := make([]models.Question, 0, len(q.Questions))
	for _, question := range q.Questions {
		question.Text = strings.TrimSpace(question.Text)
		if question.Text == "" || len(question.Options) < 2 || !question.HasOption(question.CorrectIndex) {
			continue
		}
		question.Options = append([]string(nil), question.Options...)
		blank := false
		for i, opt := range question.Options {
			question.Options[i] = strings.TrimSpace(opt)
			if question.Options[i] == "" {
				blank = true
			}
		}
		if blank {
			continue
		}
		kept = append(kept, question)
		if settings.QuestionCount > 0 && len(kept) == settings.QuestionCount {
			break
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no playable questions", ErrMalformedQuiz)
	}
	out := *q
	out.Questions = kept
	if out.Topic == "" {
		out.Topic = settings.Topic
	}
	if out.Difficulty == "" {
		out.Difficulty = settings.Difficulty
	}
	return &out, nil
}
