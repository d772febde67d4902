// Package interp runs probe scripts written in the expr language.
//
// A Main context compiles scripts into closures. A closure takes at most one
// parameter, bound to the event view of the firing probe:
//
//	e.name + ": " + e.regstr
//
// Every "<param>.<field>" access is resolved against the event field table
// at compile time; an unknown field is a compile error.
//
// Each dispatch runs in its own lightweight Context taken from a pool.
// Scripts write output with print and printf. Output is sent on a channel
// without blocking; lines that do not fit are dropped and counted. A
// script's non-nil result is emitted the same way.
//
// Runtime failures never escape Invoke. They are counted, logged at debug
// level and the most recent one is kept for LastError.
package interp
