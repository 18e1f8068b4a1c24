package programs

import (
	"strings"

	"github.com/harun/parley/pkg/dialogue"
)

// Question is one survey step
type Question struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

var DefaultQuestions = []Question{
	{ID: "name", Prompt: "What is your name?"},
	{ID: "language", Prompt: "Which programming language do you use most?"},
	{ID: "rating", Prompt: "How would you rate this service from 1 to 5?"},
}

// Survey returns a program that asks questions in order and finishes with
// the answers keyed by question id. Blank answers repeat the question.
func Survey(questions []Question) dialogue.Program {
	qs := append([]Question(nil), questions...)

	return func(conv *dialogue.Conversation) (any, error) {
		if _, err := conv.Await(); err != nil {
			return nil, err
		}

		answers := make(map[string]interface{}, len(qs))
		for i := 0; i < len(qs); {
			q := qs[i]
			in, err := conv.Ask(map[string]interface{}{
				"question": q.Prompt,
				"id":       q.ID,
				"index":    i + 1,
				"total":    len(qs),
			})
			if err != nil {
				return nil, err
			}

			if s, ok := in.(string); ok && strings.TrimSpace(s) == "" {
				continue
			}
			answers[q.ID] = in
			i++
		}
		return answers, nil
	}
}

func SurveyDefinition(questions []Question) Definition {
	return Definition{
		Name:        "survey",
		Description: "Asks a fixed list of questions and returns the answers.",
		Version:     "1.0.0",
		New:         func() dialogue.Program { return Survey(questions) },
		InputSchema: map[string]interface{}{
			"type": []interface{}{"string", "number", "boolean"},
		},
	}
}
