package dialogue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harun/parley/pkg/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = time.Second

// scripted answers input N with outputs[N] and finishes with final
func scripted(final any, outputs ...any) Program {
	return func(conv *Conversation) (any, error) {
		if _, err := conv.Await(); err != nil {
			return nil, err
		}
		for _, out := range outputs {
			if _, err := conv.Ask(out); err != nil {
				return nil, err
			}
		}
		return final, nil
	}
}

func waitForState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return ch.State() == want
	}, wait, 5*time.Millisecond, "state never became %s", want)
}

func TestScenarioOutputsThenLast(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{})

	res, err := ch.Start(ctx, scripted("DONE", "A", "B"), "input0", wait)
	require.NoError(t, err)
	assert.Equal(t, turn.Output("A"), res)
	assert.Equal(t, StateAwaitingInput, ch.State())

	res, err = ch.Exchange(ctx, "input1", wait)
	require.NoError(t, err)
	assert.Equal(t, turn.Output("B"), res)

	res, err = ch.Exchange(ctx, "input2", wait)
	require.NoError(t, err)
	assert.Equal(t, turn.Last("DONE"), res)
	assert.Equal(t, StateTerminated, ch.State())
	assert.Equal(t, 3, ch.Turns())

	_, err = ch.Exchange(ctx, "input3", wait)
	require.Error(t, err)
	assert.True(t, IsState(err))
	assert.ErrorIs(t, err, ErrTerminated)

	select {
	case <-ch.Done():
	case <-time.After(wait):
		t.Fatal("program goroutine did not exit")
	}
}

func TestResultsFollowPublishOrder(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{})

	program := func(conv *Conversation) (any, error) {
		in, err := conv.Await()
		if err != nil {
			return nil, err
		}
		for in.(int) < 50 {
			if in, err = conv.Ask(fmt.Sprintf("seen-%d", in)); err != nil {
				return nil, err
			}
		}
		return "end", nil
	}

	res, err := ch.Start(ctx, program, 0, wait)
	require.NoError(t, err)

	var got []turn.Result
	got = append(got, res)
	for i := 1; i <= 50; i++ {
		res, err = ch.Exchange(ctx, i, wait)
		require.NoError(t, err)
		got = append(got, res)
	}

	require.Len(t, got, 51)
	for i := 0; i < 50; i++ {
		assert.Equal(t, turn.Output(fmt.Sprintf("seen-%d", i)), got[i])
	}
	assert.Equal(t, turn.Last("end"), got[50])
}

func TestConcurrentExchangeFailsFast(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{})
	release := make(chan struct{})

	program := func(conv *Conversation) (any, error) {
		if _, err := conv.Await(); err != nil {
			return nil, err
		}
		in, err := conv.Ask("ready")
		if err != nil {
			return nil, err
		}
		<-release
		if _, err := conv.Ask(in); err != nil {
			return nil, err
		}
		return nil, nil
	}

	_, err := ch.Start(ctx, program, nil, wait)
	require.NoError(t, err)

	type outcome struct {
		res turn.Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := ch.Exchange(ctx, "x", wait)
		first <- outcome{res, err}
	}()

	waitForState(t, ch, StateAwaitingOutput)

	start := time.Now()
	_, err = ch.Exchange(ctx, "y", wait)
	require.Error(t, err)
	assert.True(t, IsState(err))
	assert.ErrorIs(t, err, ErrExchangeInFlight)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	_, err = ch.Collect(ctx, wait)
	assert.ErrorIs(t, err, ErrExchangeInFlight)

	close(release)
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, turn.Output("x"), got.res)
}

func TestTerminatedChannelRejectsCalls(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{})

	res, err := ch.Start(ctx, scripted("only"), nil, wait)
	require.NoError(t, err)
	assert.Equal(t, turn.Last("only"), res)

	_, err = ch.Start(ctx, scripted("again"), nil, wait)
	assert.True(t, IsState(err))

	_, err = ch.Exchange(ctx, nil, wait)
	assert.True(t, IsState(err))

	_, err = ch.Collect(ctx, wait)
	assert.True(t, IsState(err))
}

func TestStartTwice(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{})

	_, err := ch.Start(ctx, scripted("x", "A"), nil, wait)
	require.NoError(t, err)

	_, err = ch.Start(ctx, scripted("y"), nil, wait)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	ch.Terminate(nil)
}

func TestCallsBeforeStart(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{})

	_, err := ch.Exchange(ctx, "x", wait)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.True(t, IsState(err))

	_, err = ch.Collect(ctx, wait)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = ch.Start(ctx, nil, nil, wait)
	assert.True(t, IsState(err))
	assert.Equal(t, StateNotStarted, ch.State())
}

func TestDriverTimeoutLeavesProgramRunning(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{})
	release := make(chan struct{})

	program := func(conv *Conversation) (any, error) {
		if _, err := conv.Await(); err != nil {
			return nil, err
		}
		<-release
		if _, err := conv.Ask("late"); err != nil {
			return nil, err
		}
		return "done", nil
	}

	deadline := 50 * time.Millisecond
	start := time.Now()
	_, err := ch.Start(ctx, program, nil, deadline)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, SideDriver, SideOf(err))
	assert.GreaterOrEqual(t, elapsed, deadline)
	assert.Less(t, elapsed, deadline+150*time.Millisecond)
	assert.Equal(t, StateRunning, ch.State())

	_, err = ch.Exchange(ctx, "x", wait)
	assert.ErrorIs(t, err, ErrNotAwaitingInput)

	close(release)
	res, err := ch.Collect(ctx, wait)
	require.NoError(t, err)
	assert.Equal(t, turn.Output("late"), res)

	res, err = ch.Exchange(ctx, "x", wait)
	require.NoError(t, err)
	assert.Equal(t, turn.Last("done"), res)
}

func TestExchangeTimeoutBeforeInputDelivered(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{})
	release := make(chan struct{})

	program := func(conv *Conversation) (any, error) {
		if _, err := conv.Await(); err != nil {
			return nil, err
		}
		if err := conv.Publish("A"); err != nil {
			return nil, err
		}
		<-release
		in, err := conv.Await()
		if err != nil {
			return nil, err
		}
		return in, nil
	}

	_, err := ch.Start(ctx, program, nil, wait)
	require.NoError(t, err)

	_, err = ch.Exchange(ctx, "lost?", 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, StateAwaitingInput, ch.State())

	close(release)
	res, err := ch.Exchange(ctx, "kept", wait)
	require.NoError(t, err)
	assert.Equal(t, turn.Last("kept"), res)
}

func TestProgramAwaitTimeoutSurfacesAsError(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{ProgramTimeout: 40 * time.Millisecond})

	res, err := ch.Start(ctx, scripted("never", "A"), nil, wait)
	require.NoError(t, err)
	assert.Equal(t, turn.Output("A"), res)

	select {
	case <-ch.Done():
	case <-time.After(wait):
		t.Fatal("program did not time out")
	}

	res, err = ch.Exchange(ctx, "too late", wait)
	require.NoError(t, err)
	assert.Equal(t, turn.KindError, res.Kind())
	assert.True(t, IsTimeout(res.Err()))
	assert.Equal(t, SideProgram, SideOf(res.Err()))
	assert.Equal(t, StateTerminated, ch.State())

	_, err = ch.Exchange(ctx, "again", wait)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestUncollectedPublishTimesOut(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{ProgramTimeout: 40 * time.Millisecond})

	program := func(conv *Conversation) (any, error) {
		if _, err := conv.Await(); err != nil {
			return nil, err
		}
		time.Sleep(30 * time.Millisecond)
		if err := conv.Publish("nobody listens"); err != nil {
			return nil, fmt.Errorf("publishing: %w", err)
		}
		return nil, nil
	}

	_, err := ch.Start(ctx, program, nil, 5*time.Millisecond)
	require.True(t, IsTimeout(err))

	<-ch.Done()
	res, err := ch.Collect(ctx, wait)
	require.NoError(t, err)
	assert.True(t, IsTimeout(res.Err()))
	assert.Contains(t, res.Err().Error(), "publishing")
}

func TestCancelledDriver(t *testing.T) {
	ch := NewChannel(Options{})
	release := make(chan struct{})

	program := func(conv *Conversation) (any, error) {
		if _, err := conv.Await(); err != nil {
			return nil, err
		}
		<-release
		return "finished", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := ch.Start(ctx, program, nil, wait)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateRunning, ch.State())

	close(release)
	res, err := ch.Collect(context.Background(), wait)
	require.NoError(t, err)
	assert.Equal(t, turn.Last("finished"), res)
}

func TestProgramFailure(t *testing.T) {
	boom := errors.New("boom")
	ch := NewChannel(Options{})

	res, err := ch.Start(context.Background(), func(conv *Conversation) (any, error) {
		return nil, boom
	}, nil, wait)

	require.NoError(t, err)
	assert.Equal(t, turn.KindError, res.Kind())
	assert.True(t, IsProgramFailure(res.Err()))
	assert.ErrorIs(t, res.Err(), boom)
	assert.True(t, ch.IsTerminated())
}

func TestProgramPanic(t *testing.T) {
	ch := NewChannel(Options{})

	res, err := ch.Start(context.Background(), func(conv *Conversation) (any, error) {
		panic("kaboom")
	}, nil, wait)

	require.NoError(t, err)
	assert.True(t, IsProgramFailure(res.Err()))
	assert.ErrorIs(t, res.Err(), ErrPanic)
	assert.Contains(t, res.Err().Error(), "kaboom")
}

func TestAlternationIsEnforced(t *testing.T) {
	t.Run("await twice", func(t *testing.T) {
		ch := NewChannel(Options{})
		res, err := ch.Start(context.Background(), func(conv *Conversation) (any, error) {
			if _, err := conv.Await(); err != nil {
				return nil, err
			}
			_, err := conv.Await()
			return nil, err
		}, nil, wait)

		require.NoError(t, err)
		assert.True(t, IsState(res.Err()))
		assert.ErrorIs(t, res.Err(), ErrAlternation)
	})

	t.Run("publish before await", func(t *testing.T) {
		ch := NewChannel(Options{})
		res, err := ch.Start(context.Background(), func(conv *Conversation) (any, error) {
			return nil, conv.Publish("too early")
		}, nil, wait)

		require.NoError(t, err)
		assert.ErrorIs(t, res.Err(), ErrAlternation)
	})
}

func TestTerminateUnblocksProgram(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(Options{ProgramTimeout: -1})

	_, err := ch.Start(ctx, scripted("x", "A"), nil, wait)
	require.NoError(t, err)

	ch.Terminate(errors.New("evicted"))
	ch.Terminate(errors.New("ignored"))

	select {
	case <-ch.Done():
	case <-time.After(wait):
		t.Fatal("program still blocked after Terminate")
	}

	assert.Equal(t, StateTerminated, ch.State())
	_, err = ch.Exchange(ctx, "x", wait)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestTerminateReleasesWaitingDriver(t *testing.T) {
	ch := NewChannel(Options{})
	block := make(chan struct{})
	defer close(block)

	go func() {
		time.Sleep(20 * time.Millisecond)
		ch.Terminate(nil)
	}()

	_, err := ch.Start(context.Background(), func(conv *Conversation) (any, error) {
		<-block
		return nil, nil
	}, nil, wait)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestTerminateBeforeStart(t *testing.T) {
	ch := NewChannel(Options{})
	ch.Terminate(nil)

	select {
	case <-ch.Done():
	default:
		t.Fatal("Done not closed for unstarted channel")
	}

	_, err := ch.Start(context.Background(), scripted("x"), nil, wait)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestCollectWithNothingPending(t *testing.T) {
	ch := NewChannel(Options{})
	_, err := ch.Start(context.Background(), scripted("x", "A"), nil, wait)
	require.NoError(t, err)

	_, err = ch.Collect(context.Background(), wait)
	assert.ErrorIs(t, err, ErrNothingPending)
	ch.Terminate(nil)
}

func TestConversationContextCancelledOnTerminate(t *testing.T) {
	ch := NewChannel(Options{})
	observed := make(chan struct{})

	_, err := ch.Start(context.Background(), func(conv *Conversation) (any, error) {
		if _, err := conv.Await(); err != nil {
			return nil, err
		}
		if err := conv.Publish("working"); err != nil {
			return nil, err
		}
		<-conv.Context().Done()
		close(observed)
		return nil, conv.Context().Err()
	}, nil, wait)
	require.NoError(t, err)

	ch.Terminate(nil)
	select {
	case <-observed:
	case <-time.After(wait):
		t.Fatal("program did not observe termination")
	}
}
