// Package eventprocessor routes eBPF samples to the probes that emitted them.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      eBPF Ring Buffer Samples           │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor.Router                 │  ← Cookie routing
//	│   - Decodes the sample header           │
//	│   - Looks the cookie up lock-free       │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ kprobe cookie ─────→ point sink
//	          │                         - Decodes pt_regs
//	          │                         - Calls the point handler
//	          │
//	          └──→ tracepoint cookie ─→ counter sink
//	                                    - Hands the raw record over
//	                                    - Calls the overflow handler
//
// Sinks call into the probe dispatcher. The router doubles as the
// environment synchronizer of probe sessions: once a probe's route is
// removed, Synchronize returns only after any sample already being routed
// to it has left its sink.
package eventprocessor
