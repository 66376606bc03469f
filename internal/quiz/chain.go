package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// Named is a generator with a provider name, used for priority ordering.
type Named interface {
	Generator
	Name() string
}

// DefaultSharedTimeout bounds a provider run shared by concurrent identical requests.
const DefaultSharedTimeout = 30 * time.Second

// Chain tries its providers in priority order and returns the first playable quiz.
// Identical concurrent requests share one provider call. The shared call is detached from
// any single caller's cancellation; a caller that gives up only stops waiting.
type Chain struct {
	providers []Named
	group     singleflight.Group
	log       *logrus.Logger
	timeout   time.Duration
}

// NewChain builds a chain from providers in priority order.
func NewChain(log *logrus.Logger, providers ...Named) *Chain {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Chain{providers: providers, log: log, timeout: DefaultSharedTimeout}
}

// WithTimeout sets how long a shared provider run may take. Non-positive values keep the
// default.
func (c *Chain) WithTimeout(d time.Duration) *Chain {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Providers lists the provider names in the order they are tried.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// GenerateQuiz tries settings.Provider first when it names a configured provider, then the
// rest in priority order.
func (c *Chain) GenerateQuiz(ctx context.Context, settings models.QuizSettings) (*models.Quiz, error) {
	settings = settings.WithDefaults()
	ctx, span := tracer.Start(ctx, "quiz.generate")
	defer span.End()
	span.SetAttributes(attribute.String("quiz.topic", settings.Topic), attribute.Int("quiz.count", settings.QuestionCount))

	if len(c.providers) == 0 {
		span.SetStatus(codes.Error, ErrNoProviders.Error())
		return nil, ErrNoProviders
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(requestKey(settings), func() (interface{}, error) {
		gctx, cancel := context.WithTimeout(shared, c.timeout)
		defer cancel()
		return c.generate(gctx, settings)
	})
	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "cancelled")
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "generation failed")
			return nil, res.Err
		}
		q := copyQuiz(res.Val.(*models.Quiz))
		span.SetAttributes(attribute.String("quiz.source", q.Source), attribute.Bool("quiz.shared", res.Shared))
		return q, nil
	}
}

func (c *Chain) generate(ctx context.Context, settings models.QuizSettings) (*models.Quiz, error) {
	var errs []error
	for _, p := range c.ordered(settings.Provider) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q, err := p.GenerateQuiz(ctx, settings)
		if err == nil {
			return q, nil
		}
		c.log.WithFields(logrus.Fields{"provider": p.Name(), "topic": settings.Topic}).Warnf("quiz provider failed: %v", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("all quiz providers failed: %w", errors.Join(errs...))
}

func (c *Chain) ordered(preferred string) []Named {
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	if preferred == "" {
		return c.providers
	}
	out := make([]Named, 0, len(c.providers))
	for _, p := range c.providers {
		if p.Name() == preferred {
			out = append(out, p)
		}
	}
	for _, p := range c.providers {
		if p.Name() != preferred {
			out = append(out, p)
		}
	}
	return out
}

func requestKey(s models.QuizSettings) string {
	return strings.Join([]string{
		strings.ToLower(s.Topic), s.Difficulty, fmt.Sprint(s.QuestionCount), s.Language, s.Provider,
	}, "|")
}

func copyQuiz(q *models.Quiz) *models.Quiz {
	c := *q
	c.Questions = make([]models.Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = append([]string(nil), question.Options...)
		c.Questions[i] = question
	}
	return &c
}
