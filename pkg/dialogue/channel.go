package dialogue

import (
	"context"
	"sync"
	"time"

	"github.com/harun/parley/pkg/clock"
	"github.com/harun/parley/pkg/turn"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDialogueTimeout bounds how long a driver waits for the program
	DefaultDialogueTimeout = 10 * time.Second
	// DefaultControllerTimeout bounds how long the program waits for the driver
	DefaultControllerTimeout = 5 * time.Minute
)

// State is the position of a channel in its lifecycle
type State int

const (
	StateNotStarted State = iota
	// StateRunning: the program is computing and no driver is waiting
	StateRunning
	// StateAwaitingOutput: a driver call is blocked on the program's next value
	StateAwaitingOutput
	// StateAwaitingInput: the program published an Output and waits for input
	StateAwaitingInput
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateAwaitingOutput:
		return "awaiting_output"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Options configures a Channel
type Options struct {
	// ProgramTimeout is the default deadline for Conversation.Await and
	// Conversation.Publish. Zero means DefaultControllerTimeout; negative
	// means no deadline.
	ProgramTimeout time.Duration
	// Clock defaults to clock.Real()
	Clock clock.Clock
	// Label tags log lines, usually the session id
	Label string
}

// Channel is the turn-exchange channel between one driver and one program
type Channel struct {
	clock          clock.Clock
	programTimeout time.Duration
	label          string

	mu         sync.Mutex
	state      State
	turns      int
	final      turn.Result
	finalTaken bool
	stopReason error

	inputs   chan any
	outputs  chan turn.Result
	finished chan struct{}
	stop     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce   sync.Once
	finishOnce sync.Once
}

// NewChannel creates a channel in StateNotStarted
func NewChannel(opts Options) *Channel {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ProgramTimeout == 0 {
		opts.ProgramTimeout = DefaultControllerTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Channel{
		clock:          opts.Clock,
		programTimeout: opts.ProgramTimeout,
		label:          opts.Label,
		state:          StateNotStarted,
		inputs:         make(chan any),
		outputs:        make(chan turn.Result),
		finished:       make(chan struct{}),
		stop:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches program and waits for its first value. The program's first
// Await returns firstInput. driverTimeout <= 0 waits until ctx is done.
func (c *Channel) Start(ctx context.Context, program Program, firstInput any, driverTimeout time.Duration) (turn.Result, error) {
	const op = "start"
	if program == nil {
		return turn.Result{}, stateError(op, errNilProgram)
	}

	c.mu.Lock()
	switch c.state {
	case StateNotStarted:
	case StateTerminated:
		c.mu.Unlock()
		return turn.Result{}, stateError(op, ErrTerminated)
	default:
		c.mu.Unlock()
		return turn.Result{}, stateError(op, ErrAlreadyStarted)
	}
	c.state = StateAwaitingOutput
	c.mu.Unlock()

	dl := clock.NewDeadline(c.clock, driverTimeout)
	defer dl.Stop()

	go c.run(program, firstInput)

	return c.await(ctx, op, dl)
}

// Exchange hands nextInput to the program and waits for its next value.
// It is only valid while the program awaits input.
func (c *Channel) Exchange(ctx context.Context, nextInput any, driverTimeout time.Duration) (turn.Result, error) {
	const op = "exchange"

	c.mu.Lock()
	if res, ok, err := c.admitLocked(op); !ok {
		c.mu.Unlock()
		return res, err
	}
	if c.state != StateAwaitingInput {
		err := ErrNotAwaitingInput
		if c.state == StateAwaitingOutput {
			err = ErrExchangeInFlight
		}
		c.mu.Unlock()
		return turn.Result{}, stateError(op, err)
	}
	c.state = StateAwaitingOutput
	c.mu.Unlock()

	dl := clock.NewDeadline(c.clock, driverTimeout)
	defer dl.Stop()

	select {
	case c.inputs <- nextInput:
	case <-c.finished:
		return c.takeFinal(op)
	case <-c.stop:
		return turn.Result{}, stateError(op, ErrTerminated)
	case <-dl.C():
		c.restore(StateAwaitingInput)
		return turn.Result{}, c.timeout(op, dl)
	case <-ctx.Done():
		c.restore(StateAwaitingInput)
		return turn.Result{}, newError(KindCancelled, op, SideDriver, ctx.Err())
	}

	return c.await(ctx, op, dl)
}

// Collect waits for the value the program is still computing after an
// earlier driver call timed out or was cancelled. No input is delivered.
func (c *Channel) Collect(ctx context.Context, driverTimeout time.Duration) (turn.Result, error) {
	const op = "collect"

	c.mu.Lock()
	if res, ok, err := c.admitLocked(op); !ok {
		c.mu.Unlock()
		return res, err
	}
	switch c.state {
	case StateRunning:
	case StateAwaitingOutput:
		c.mu.Unlock()
		return turn.Result{}, stateError(op, ErrExchangeInFlight)
	default:
		c.mu.Unlock()
		return turn.Result{}, stateError(op, ErrNothingPending)
	}
	c.state = StateAwaitingOutput
	c.mu.Unlock()

	dl := clock.NewDeadline(c.clock, driverTimeout)
	defer dl.Stop()

	return c.await(ctx, op, dl)
}

// Terminate moves the channel to StateTerminated. A program blocked in
// Await or Publish observes ErrTerminated, and so does a waiting driver.
// It is safe to call more than once; only the first reason is kept.
func (c *Channel) Terminate(reason error) {
	c.stopOnce.Do(func() {
		if reason == nil {
			reason = ErrTerminated
		}

		c.mu.Lock()
		started := c.state != StateNotStarted
		c.state = StateTerminated
		c.finalTaken = true
		c.stopReason = reason
		c.mu.Unlock()

		close(c.stop)
		c.cancel()
		if !started {
			c.finishOnce.Do(func() { close(c.finished) })
		}

		log.Debug().
			Str("session_id", c.label).
			Err(reason).
			Msg("Dialogue terminated")
	})
}

// State returns the current lifecycle state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsTerminated reports whether the channel accepts no further calls
func (c *Channel) IsTerminated() bool {
	return c.State() == StateTerminated
}

// Turns returns the number of results delivered to drivers so far
func (c *Channel) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns
}

// Done is closed once the program goroutine has exited, or when a channel
// that was never started is terminated.
func (c *Channel) Done() <-chan struct{} {
	return c.finished
}

// admitLocked rejects calls that cannot proceed in the current state. If the
// program already finished and its result was not yet delivered, that result
// is returned as the answer to this call.
func (c *Channel) admitLocked(op string) (turn.Result, bool, error) {
	switch c.state {
	case StateNotStarted:
		return turn.Result{}, false, stateError(op, ErrNotStarted)
	case StateTerminated:
		return turn.Result{}, false, stateError(op, ErrTerminated)
	case StateAwaitingOutput:
		return turn.Result{}, false, stateError(op, ErrExchangeInFlight)
	}

	if c.finishedLocked() && !c.finalTaken {
		res := c.takeFinalLocked()
		return res, false, nil
	}
	return turn.Result{}, true, nil
}

func (c *Channel) finishedLocked() bool {
	select {
	case <-c.finished:
		return true
	default:
		return false
	}
}

// await blocks the driver until the program hands over its next value
func (c *Channel) await(ctx context.Context, op string, dl *clock.Deadline) (turn.Result, error) {
	select {
	case res := <-c.outputs:
		c.mu.Lock()
		if c.state == StateAwaitingOutput {
			c.state = StateAwaitingInput
		}
		c.turns++
		c.mu.Unlock()
		return res, nil
	case <-c.finished:
		return c.takeFinal(op)
	case <-c.stop:
		return turn.Result{}, stateError(op, ErrTerminated)
	case <-dl.C():
		c.restore(StateRunning)
		return turn.Result{}, c.timeout(op, dl)
	case <-ctx.Done():
		c.restore(StateRunning)
		return turn.Result{}, newError(KindCancelled, op, SideDriver, ctx.Err())
	}
}

func (c *Channel) takeFinal(op string) (turn.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalTaken {
		return turn.Result{}, stateError(op, ErrTerminated)
	}
	return c.takeFinalLocked(), nil
}

func (c *Channel) takeFinalLocked() turn.Result {
	c.finalTaken = true
	c.state = StateTerminated
	c.turns++
	return c.final
}

// restore hands the channel back after a driver gave up waiting
func (c *Channel) restore(to State) {
	c.mu.Lock()
	if c.state == StateAwaitingOutput {
		c.state = to
	}
	c.mu.Unlock()
}

func (c *Channel) timeout(op string, dl *clock.Deadline) error {
	log.Debug().
		Str("session_id", c.label).
		Str("op", op).
		Dur("timeout", dl.Duration()).
		Msg("Driver deadline elapsed")
	return newError(KindTimeout, op, SideDriver, ErrDeadline)
}
