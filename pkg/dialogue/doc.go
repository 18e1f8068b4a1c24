// Package dialogue runs a sequential conversation program on its own goroutine
// and exchanges exactly one input and one turn.Result with a request-driven
// caller per round.
//
// Invariants:
// - Each round is a rendezvous: a value crosses only when both sides are ready.
// - At most one driver call is in flight per channel; a concurrent call fails
//   fast with a state error instead of queuing.
// - Output N is always answered by input N. Nothing is dropped, duplicated or
//   reordered.
// - A terminated channel rejects every call and is never reused.
// - A driver timeout never stops the program. The program runs until its own
//   deadline, completion, or Terminate.
//
// Usage:
//
//	ch := dialogue.NewChannel(dialogue.Options{ProgramTimeout: 5 * time.Minute})
//	res, err := ch.Start(ctx, func(conv *dialogue.Conversation) (any, error) {
//		name, err := conv.Await()
//		if err != nil {
//			return nil, err
//		}
//		if _, err := conv.Ask("hello " + name.(string)); err != nil {
//			return nil, err
//		}
//		return "bye", nil
//	}, "ada", 10*time.Second)
package dialogue
