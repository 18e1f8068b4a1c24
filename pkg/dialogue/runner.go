package dialogue

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/harun/parley/pkg/turn"
	"github.com/rs/zerolog/log"
)

// Program is sequential conversation logic. It reads inputs and publishes
// outputs through conv; its return value becomes the Last result and a
// returned error becomes the Error result.
type Program func(conv *Conversation) (any, error)

var errNilProgram = errors.New("program is nil")

// run executes program once on the calling goroutine and records its
// outcome. The outcome is stored before finished is closed so any driver
// that observes finished also observes the result. Closing finished is the
// last thing the goroutine does.
func (c *Channel) run(program Program, first any) {
	conv := newConversation(c, first)
	res := execute(program, conv)

	c.mu.Lock()
	c.final = res
	c.mu.Unlock()
	c.cancel()

	evt := log.Debug().Str("session_id", c.label).Str("kind", res.Kind().String())
	if res.Err() != nil {
		evt = evt.Err(res.Err())
	}
	evt.Msg("Dialogue program finished")

	c.finishOnce.Do(func() { close(c.finished) })
}

func execute(program Program, conv *Conversation) (res turn.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = turn.Error(ProgramFailure(fmt.Errorf("%w: %v\n%s", ErrPanic, p, debug.Stack())))
		}
	}()

	value, err := program(conv)
	if err != nil {
		// Errors raised by the conversation API keep their own kind so a
		// program-side timeout is reported as a timeout.
		if KindOf(err) != 0 {
			return turn.Error(err)
		}
		return turn.Error(ProgramFailure(err))
	}
	return turn.Last(value)
}
