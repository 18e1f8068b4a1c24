// Package turn defines the result produced by every exchange on a dialogue
// channel.
//
// Invariants:
// - A Result is exactly one of Output, Last or Error.
// - Last and Error are terminal; no further exchange follows them.
// - Results are immutable once built.
//
// Usage:
//
//	r := turn.Output("What is your name?")
//	if !r.IsTerminal() {
//		_ = r.Value()
//	}
package turn
