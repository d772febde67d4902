package eventprocessor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mrzor/probescript/internal/bpf"
	"github.com/mrzor/probescript/internal/epoch"
)

// ErrUnknownCookie is returned for samples whose cookie has no route.
var ErrUnknownCookie = errors.New("no route for cookie")

// Sink receives the payload of every sample routed to it. payload is only
// valid for the duration of the call.
type Sink func(h bpf.Header, payload []byte)

// Stats reports routing counters.
type Stats struct {
	Routed    uint64
	Unknown   uint64
	Malformed uint64
}

// Router routes ring buffer samples to sinks by cookie.
//
// Route is lock-free and must be called from a single goroutine. Add and
// Remove may be called from any goroutine; they copy the route table.
type Router struct {
	logger zerolog.Logger

	routes  atomic.Pointer[map[uint64]Sink]
	mu      sync.Mutex // serializes writers
	section *epoch.Tracker
	cookies atomic.Uint64

	routed    atomic.Uint64
	unknown   atomic.Uint64
	malformed atomic.Uint64
}

// NewRouter creates an empty router.
func NewRouter(logger zerolog.Logger) *Router {
	r := &Router{
		logger:  logger.With().Str("component", "router").Logger(),
		section: epoch.New(1),
	}
	empty := map[uint64]Sink{}
	r.routes.Store(&empty)
	return r
}

// NextCookie returns a cookie no route has used yet. Cookies start at 1.
func (r *Router) NextCookie() uint64 {
	return r.cookies.Add(1)
}

// Add installs sink for cookie, replacing any previous route.
func (r *Router) Add(cookie uint64, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.routes.Load()
	next := make(map[uint64]Sink, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[cookie] = sink
	r.routes.Store(&next)
	r.logger.Debug().Uint64("cookie", cookie).Int("routes", len(next)).Msg("Route added")
}

// Remove drops the route for cookie. A sample already being routed to it
// may still reach the sink until Synchronize returns.
func (r *Router) Remove(cookie uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.routes.Load()
	if _, ok := cur[cookie]; !ok {
		return
	}
	next := make(map[uint64]Sink, len(cur))
	for k, v := range cur {
		if k != cookie {
			next[k] = v
		}
	}
	r.routes.Store(&next)
	r.logger.Debug().Uint64("cookie", cookie).Int("routes", len(next)).Msg("Route removed")
}

// Len returns the number of installed routes.
func (r *Router) Len() int {
	return len(*r.routes.Load())
}

// Route decodes the sample header and hands the payload to its sink.
func (r *Router) Route(sample []byte) error {
	h, payload, err := bpf.DecodeHeader(sample)
	if err != nil {
		r.malformed.Add(1)
		return err
	}

	if !r.section.Enter(0) {
		return errors.New("concurrent Route calls")
	}
	defer r.section.Exit(0)

	sink, ok := (*r.routes.Load())[h.Cookie]
	if !ok {
		// Late samples of removed probes land here.
		r.unknown.Add(1)
		return fmt.Errorf("%w %d", ErrUnknownCookie, h.Cookie)
	}
	sink(h, payload)
	r.routed.Add(1)
	return nil
}

// Synchronize waits until no sample observed in flight can still reach a
// removed sink.
func (r *Router) Synchronize() error {
	r.section.Wait()
	return nil
}

// Stats returns a snapshot of the routing counters.
func (r *Router) Stats() Stats {
	return Stats{
		Routed:    r.routed.Load(),
		Unknown:   r.unknown.Load(),
		Malformed: r.malformed.Load(),
	}
}
