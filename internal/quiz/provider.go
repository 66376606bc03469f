package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jason-s-yu/trivia/internal/ai"
	"github.com/jason-s-yu/trivia/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const systemPrompt = `You write multiple-choice trivia questions. Reply with JSON only, in the form
{"questions":[{"question":"...","options":["...","...","...","..."],"correctIndex":0,"explanation":"...","category":"..."}]}.
Every question has exactly four options and exactly one correct answer.`

// ProviderGenerator asks a language model for a quiz and parses its JSON reply.
type ProviderGenerator struct {
	provider ai.Provider
}

// NewProviderGenerator wraps a completion provider.
func NewProviderGenerator(p ai.Provider) *ProviderGenerator {
	return &ProviderGenerator{provider: p}
}

// Name is the underlying provider's name.
func (g *ProviderGenerator) Name() string {
	return g.provider.Name()
}

func (g *ProviderGenerator) GenerateQuiz(ctx context.Context, settings models.QuizSettings) (*models.Quiz, error) {
	ctx, span := tracer.Start(ctx, "quiz.provider", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("quiz.provider", g.provider.Name()),
		attribute.String("quiz.topic", settings.Topic),
		attribute.Int("quiz.count", settings.QuestionCount),
	)

	raw, err := g.provider.CompleteWithSystem(ctx, systemPrompt, buildPrompt(settings))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, fmt.Errorf("%s: %w", g.provider.Name(), err)
	}
	q, err := Parse(raw, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("%s: %w", g.provider.Name(), err)
	}
	q.Source = g.provider.Name()
	span.SetAttributes(attribute.Int("quiz.questions", len(q.Questions)))
	return q, nil
}

func buildPrompt(s models.QuizSettings) string {
	return fmt.Sprintf("Write %d %s trivia questions about %q in language %q.",
		s.QuestionCount, s.Difficulty, s.Topic, s.Language)
}

type rawQuestion struct {
	Question     string   `json:"question"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
	Category     string   `json:"category"`
}

// Parse decodes a model reply into a validated quiz. Markdown code fences around the JSON
// are tolerated.
func Parse(raw string, settings models.QuizSettings) (*models.Quiz, error) {
	raw = stripFences(raw)
	var payload struct {
		Questions []rawQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuiz, err)
	}
	q := &models.Quiz{Topic: settings.Topic, Difficulty: settings.Difficulty}
	for _, rq := range payload.Questions {
		if rq.CorrectIndex == nil {
			continue
		}
		text := rq.Question
		if text == "" {
			text = rq.Text
		}
		q.Questions = append(q.Questions, models.Question{
			Text:         text,
			Options:      rq.Options,
			CorrectIndex: *rq.CorrectIndex,
			Explanation:  rq.Explanation,
			Category:     rq.Category,
		})
	}
	return Validate(q, settings)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
