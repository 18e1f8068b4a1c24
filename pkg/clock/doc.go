// Package clock abstracts time for the dialogue channel and the session
// sweeper so both can be driven by a manual clock in tests.
//
// Invariants:
// - Real delegates to the time package and is safe for concurrent use.
// - Fake only moves when Advance or Set is called; timers and tickers whose
//   deadline has been reached fire during that call.
// - A Deadline built from a non-positive duration never fires.
package clock
