package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/parley/pkg/clock"
	"github.com/harun/parley/pkg/turn"
)

// Conversation is the program-side end of a Channel. It is handed to the
// Program and must only be used from the program goroutine.
type Conversation struct {
	ch *Channel

	first        any
	firstPending bool
	needInput    bool
	failed       error
}

func newConversation(ch *Channel, first any) *Conversation {
	return &Conversation{
		ch:           ch,
		first:        first,
		firstPending: true,
		needInput:    true,
	}
}

// Context is cancelled when the channel is terminated or the program exits.
// Long-running program steps should watch it.
func (cv *Conversation) Context() context.Context {
	return cv.ch.ctx
}

// Await blocks until the driver supplies the next input, using the channel's
// default program deadline. The first call returns the input given to Start.
func (cv *Conversation) Await() (any, error) {
	return cv.AwaitTimeout(cv.ch.programTimeout)
}

// AwaitTimeout is Await with an explicit deadline. timeout <= 0 waits until
// the channel is terminated.
func (cv *Conversation) AwaitTimeout(timeout time.Duration) (any, error) {
	const op = "await"
	if cv.failed != nil {
		return nil, cv.failed
	}
	if !cv.needInput {
		return nil, newError(KindState, op, SideProgram, ErrAlternation)
	}

	if cv.firstPending {
		cv.firstPending = false
		cv.needInput = false
		first := cv.first
		cv.first = nil
		return first, nil
	}

	dl := clock.NewDeadline(cv.ch.clock, timeout)
	defer dl.Stop()

	select {
	case in := <-cv.ch.inputs:
		cv.needInput = false
		return in, nil
	case <-cv.ch.stop:
		return nil, cv.fail(newError(KindState, op, SideProgram, cv.ch.terminationCause()))
	case <-dl.C():
		return nil, cv.fail(newError(KindTimeout, op, SideProgram, ErrDeadline))
	}
}

// Publish hands value to the driver as an Output and blocks until a driver
// accepts it, using the channel's default program deadline.
func (cv *Conversation) Publish(value any) error {
	return cv.PublishTimeout(value, cv.ch.programTimeout)
}

// PublishTimeout is Publish with an explicit deadline
func (cv *Conversation) PublishTimeout(value any, timeout time.Duration) error {
	const op = "publish"
	if cv.failed != nil {
		return cv.failed
	}
	if cv.needInput {
		return newError(KindState, op, SideProgram, ErrAlternation)
	}

	dl := clock.NewDeadline(cv.ch.clock, timeout)
	defer dl.Stop()

	select {
	case cv.ch.outputs <- turn.Output(value):
		cv.needInput = true
		return nil
	case <-cv.ch.stop:
		return cv.fail(newError(KindState, op, SideProgram, cv.ch.terminationCause()))
	case <-dl.C():
		return cv.fail(newError(KindTimeout, op, SideProgram, ErrDeadline))
	}
}

// Ask publishes value and then waits for the answer
func (cv *Conversation) Ask(value any) (any, error) {
	if err := cv.Publish(value); err != nil {
		return nil, err
	}
	return cv.Await()
}

// fail makes err sticky: a program that ignores it and keeps going gets the
// same error from every later call.
func (cv *Conversation) fail(err error) error {
	cv.failed = err
	return err
}

func (c *Channel) terminationCause() error {
	c.mu.Lock()
	reason := c.stopReason
	c.mu.Unlock()
	if reason == nil || errors.Is(reason, ErrTerminated) {
		return ErrTerminated
	}
	return fmt.Errorf("%w: %w", ErrTerminated, reason)
}
