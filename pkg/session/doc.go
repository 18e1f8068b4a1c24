// Package session owns the dialogue sessions of a process: one turn-exchange
// channel per conversation id, idle eviction, and an optional JSONL
// transcript of every turn.
//
// Invariants:
// - At most one live session exists per id; concurrent GetOrCreate calls for
//   the same id invoke the factory once and all observe the same Session.
// - Last-access is refreshed only by a driver call that returned a result.
// - A session is removed as soon as its channel delivers a terminal result,
//   and its channel is terminated whenever it leaves the registry.
// - Channels are terminated outside the registry lock.
//
// Usage:
//
//	reg := session.NewRegistry(session.Config{IdleTimeout: 30 * time.Minute})
//	_ = reg.Start()
//	defer reg.Shutdown()
//
//	s, _, _ := reg.GetOrCreate("abc", func(id string) (*session.Session, error) {
//		return reg.NewSession(id, "echo", nil), nil
//	})
//	res, _ := s.Start(ctx, program, "hello")
//	_ = res
package session
