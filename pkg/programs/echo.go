package programs

import (
	"strings"

	"github.com/harun/parley/pkg/dialogue"
)

// EchoStopWord ends an echo conversation
const EchoStopWord = "bye"

// Echo answers every input with itself until it receives EchoStopWord
func Echo(conv *dialogue.Conversation) (any, error) {
	turns := 0
	in, err := conv.Await()
	for {
		if err != nil {
			return nil, err
		}
		if s, ok := in.(string); ok && strings.EqualFold(strings.TrimSpace(s), EchoStopWord) {
			return map[string]interface{}{"echoed": turns}, nil
		}
		turns++
		in, err = conv.Ask(in)
	}
}

func EchoDefinition() Definition {
	return Definition{
		Name:        "echo",
		Description: `Repeats each input back until it receives "bye".`,
		Version:     "1.0.0",
		New:         func() dialogue.Program { return Echo },
	}
}
