package quiz

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/trivia/internal/models"
)

// PlaceholderSource marks quizzes built without a provider.
const PlaceholderSource = "placeholder"

var placeholderBank = []models.Question{
	{Text: "How many continents are there?", Options: []string{"5", "6", "7", "8"}, CorrectIndex: 2, Category: "geography"},
	{Text: "What is the chemical symbol for gold?", Options: []string{"Ag", "Au", "Gd", "Go"}, CorrectIndex: 1, Category: "science"},
	{Text: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Jupiter", "Mars", "Mercury"}, CorrectIndex: 2, Category: "science"},
	{Text: "How many sides does a hexagon have?", Options: []string{"5", "6", "7", "8"}, CorrectIndex: 1, Category: "math"},
	{Text: "What is the largest ocean on Earth?", Options: []string{"Atlantic", "Indian", "Arctic", "Pacific"}, CorrectIndex: 3, Category: "geography"},
	{Text: "Which gas do plants absorb from the air?", Options: []string{"Oxygen", "Carbon dioxide", "Nitrogen", "Helium"}, CorrectIndex: 1, Category: "science"},
	{Text: "What is 12 multiplied by 12?", Options: []string{"124", "144", "132", "156"}, CorrectIndex: 1, Category: "math"},
	{Text: "Which is the longest river in the world?", Options: []string{"Amazon", "Nile", "Yangtze", "Mississippi"}, CorrectIndex: 1, Category: "geography"},
	{Text: "How many minutes are in a day?", Options: []string{"1440", "1200", "1600", "960"}, CorrectIndex: 0, Category: "math"},
	{Text: "What is the freezing point of water in Celsius?", Options: []string{"-10", "0", "4", "32"}, CorrectIndex: 1, Category: "science"},
}

// Placeholder builds a deterministic quiz from a small built-in bank. It never fails, and
// is what a session falls back to when every provider does.
type Placeholder struct{}

func (Placeholder) GenerateQuiz(_ context.Context, settings models.QuizSettings) (*models.Quiz, error) {
	return PlaceholderQuiz(settings), nil
}

// PlaceholderQuiz returns settings.QuestionCount questions, cycling the bank.
func PlaceholderQuiz(settings models.QuizSettings) *models.Quiz {
	settings = settings.WithDefaults()
	q := &models.Quiz{Topic: settings.Topic, Difficulty: settings.Difficulty, Source: PlaceholderSource}
	for i := 0; i < settings.QuestionCount; i++ {
		question := placeholderBank[i%len(placeholderBank)]
		question.Options = append([]string(nil), question.Options...)
		if round := i / len(placeholderBank); round > 0 {
			question.Text = fmt.Sprintf("%s (round %d)", question.Text, round+1)
		}
		q.Questions = append(q.Questions, question)
	}
	return q
}
