// Package event provides the typed view scripts get over one captured
// occurrence, and the table of event fields scripts may read.
//
// A View wraps borrowed data: the raw trace record (counter probes), the
// register snapshot (point probes) and the catalog descriptor. It lives for
// exactly one dispatch.
//
// Field access is resolved when a script is compiled: Table.Resolve maps
// "event.<name>" to a stable index once, and Table.Get evaluates that index
// for every occurrence without searching by name again.
//
//	index      name          result
//	100        annotate      rendered record, nil outside the tracepoint family
//	101        name          event name
//	102        print_fmt     raw print format
//	103        sc_nr         syscall number, nil unless syscall entry
//	104        sc_is_enter   true for syscall entry
//	105..110   sc_arg1..6    syscall arguments, nil unless syscall entry
//	111        regstr        register snapshot dump, "" without snapshot
//	112        allfield      field layout dump, reverse-declared order
//	113        field1        first 4-byte field in reverse-declared order
//
// Indices below FieldBase are reserved for positional field access.
package event
