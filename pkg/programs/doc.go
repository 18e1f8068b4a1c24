// Package programs holds the catalog of conversation programs a gateway can
// start by name, together with the JSON schemas their inputs must satisfy.
//
// Invariants:
// - Program names are unique within a catalog.
// - Each lookup returns a fresh program; programs share no state.
// - Inputs are validated against the declared schema before they reach a channel.
//
// Usage:
//
//	cat := programs.Default()
//	prog, _ := cat.Program("echo")
//	_ = cat.ValidateStart("echo", "hello")
//	_ = prog
package programs
