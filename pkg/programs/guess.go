package programs

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/harun/parley/pkg/dialogue"
)

const (
	DefaultGuessMax   = 100
	DefaultGuessTries = 7
)

// GuessConfig is the optional first input of a guessing game
type GuessConfig struct {
	Max    int `json:"max"`
	Tries  int `json:"tries"`
	Secret int `json:"secret"`
}

// Guess plays a number guessing game. The first input configures the game;
// every later input is a guess answered with a hint.
func Guess(conv *dialogue.Conversation) (any, error) {
	first, err := conv.Await()
	if err != nil {
		return nil, err
	}

	cfg, err := parseGuessConfig(first)
	if err != nil {
		return nil, err
	}

	in, err := conv.Ask(map[string]interface{}{
		"prompt": fmt.Sprintf("guess a number between 1 and %d", cfg.Max),
		"tries":  cfg.Tries,
	})

	guesses := 0
	for {
		if err != nil {
			return nil, err
		}

		n, convErr := toInt(in)
		if convErr != nil {
			in, err = conv.Ask(map[string]interface{}{
				"error":      convErr.Error(),
				"tries_left": cfg.Tries - guesses,
			})
			continue
		}

		guesses++
		if n == cfg.Secret {
			return map[string]interface{}{"won": true, "secret": cfg.Secret, "guesses": guesses}, nil
		}
		if guesses >= cfg.Tries {
			return map[string]interface{}{"won": false, "secret": cfg.Secret, "guesses": guesses}, nil
		}

		hint := "higher"
		if n > cfg.Secret {
			hint = "lower"
		}
		in, err = conv.Ask(map[string]interface{}{
			"hint":       hint,
			"tries_left": cfg.Tries - guesses,
		})
	}
}

func parseGuessConfig(v any) (GuessConfig, error) {
	cfg := GuessConfig{}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: game settings must be an object: %v", ErrInvalidInput, err)
		}
	}

	if cfg.Max <= 1 {
		cfg.Max = DefaultGuessMax
	}
	if cfg.Tries <= 0 {
		cfg.Tries = DefaultGuessTries
	}
	if cfg.Secret < 1 || cfg.Secret > cfg.Max {
		cfg.Secret = rand.IntN(cfg.Max) + 1
	}
	return cfg, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not a whole number", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%v is not a whole number", n)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%v is not a number", v)
	}
}

func GuessDefinition() Definition {
	return Definition{
		Name:        "guess",
		Description: "Number guessing game with higher/lower hints.",
		Version:     "1.1.0",
		New:         func() dialogue.Program { return Guess },
		StartSchema: map[string]interface{}{
			"type": []interface{}{"object", "null"},
			"properties": map[string]interface{}{
				"max":    map[string]interface{}{"type": "integer", "minimum": 2, "maximum": 1000000},
				"tries":  map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 100},
				"secret": map[string]interface{}{"type": "integer", "minimum": 1},
			},
			"additionalProperties": false,
		},
		InputSchema: map[string]interface{}{
			"type": "integer",
		},
	}
}
