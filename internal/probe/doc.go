// Package probe attaches compiled scripts to instrumentation points and
// dispatches every firing to the attached script.
//
// A Session owns a Registry of records. Point records hook one symbol
// through a PointHooker; counter records each own one per-CPU counter
// created by a CounterFactory for a tracepoint selected from the catalog.
//
// Firings go through the Dispatcher, which guards each execution unit
// against reentrancy, skips firings from the session's own thread group and
// runs the script in a fresh interpreter context. Session.Close tears down
// every record, waits until no dispatch can still be running and only then
// releases the records.
package probe
