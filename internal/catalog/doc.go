// Package catalog describes the instrumentable trace events of the host.
//
// A Catalog enumerates EventDescriptors: name, subsystem, print format,
// field layout and the sampling attachment id used to open a tracepoint
// counter. Two implementations are provided:
//   - Static: an in-memory list, used by tests and embedders
//   - Tracefs: parses <tracefs>/events/<subsystem>/<event>/format once
//
// Fields are kept in declared order. Consumers that need the kernel's
// list order iterate them in reverse.
//
// EventDescriptor.Render is the trace-formatting pipeline behind the
// "annotate" event accessor.
package catalog
