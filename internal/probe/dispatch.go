package probe

import (
	"sync/atomic"

	"github.com/mrzor/probescript/internal/catalog"
	"github.com/mrzor/probescript/internal/epoch"
	"github.com/mrzor/probescript/internal/event"
)

// DispatchStats reports dispatcher activity counters.
type DispatchStats struct {
	Dispatched   uint64
	Reentrant    uint64
	SelfExcluded uint64
	Dropped      uint64
}

// Dispatcher turns one probe firing into one closure invocation.
// Its fire methods are safe for concurrent use from any unit, never block
// and take no locks.
type Dispatcher struct {
	interp Interpreter
	mask   InterruptMask
	group  uint32
	units  *epoch.Tracker

	dispatched   atomic.Uint64
	reentrant    atomic.Uint64
	selfExcluded atomic.Uint64
	dropped      atomic.Uint64
}

// NewDispatcher creates a dispatcher for units 0..units-1 that skips firings
// from thread group group. mask may be nil.
func NewDispatcher(interp Interpreter, mask InterruptMask, group uint32, units int) *Dispatcher {
	if mask == nil {
		mask = noInterruptMask{}
	}
	return &Dispatcher{
		interp: interp,
		mask:   mask,
		group:  group,
		units:  epoch.New(units),
	}
}

// Units returns the number of execution units tracked.
func (d *Dispatcher) Units() int {
	return d.units.Units()
}

// Stats returns a snapshot of the activity counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Dispatched:   d.dispatched.Load(),
		Reentrant:    d.reentrant.Load(),
		SelfExcluded: d.selfExcluded.Load(),
		Dropped:      d.dropped.Load(),
	}
}

// Quiesce blocks until every dispatch in progress at call time has returned.
func (d *Dispatcher) Quiesce() {
	d.units.Wait()
}

// FirePoint dispatches a point probe hit.
func (d *Dispatcher) FirePoint(unit int, tgid uint32, desc *catalog.EventDescriptor, regs *event.Registers, cl Closure) {
	if !d.enter(unit) {
		return
	}
	defer d.units.Exit(unit)

	d.dispatch(tgid, cl, event.NewView(desc, nil, regs, event.Point))
}

// FireCounter dispatches a counter sample. The unit's interrupt state is
// saved before the reentrancy flag is set and restored after it is cleared.
func (d *Dispatcher) FireCounter(s Sample, desc *catalog.EventDescriptor, class event.Classification, cl Closure) {
	state := d.mask.Save(s.Unit)
	defer d.mask.Restore(s.Unit, state)

	if !d.enter(s.Unit) {
		return
	}
	defer d.units.Exit(s.Unit)

	d.dispatch(s.TGID, cl, event.NewView(desc, s.Raw, s.Regs, class))
}

func (d *Dispatcher) enter(unit int) bool {
	if unit < 0 || unit >= d.units.Units() {
		d.dropped.Add(1)
		return false
	}
	if !d.units.Enter(unit) {
		d.reentrant.Add(1)
		return false
	}
	return true
}

func (d *Dispatcher) dispatch(tgid uint32, cl Closure, view event.View) {
	if tgid == d.group {
		d.selfExcluded.Add(1)
		return
	}
	if cl == nil {
		d.dropped.Add(1)
		return
	}

	ctx := d.interp.CreateContext()
	defer d.interp.DestroyContext(ctx)
	defer view.Invalidate()

	ctx.Push(cl)
	argc := 0
	if cl.NumParams() > 0 {
		ctx.Push(&view)
		argc = 1
	}
	ctx.Invoke(argc)
	d.dispatched.Add(1)
}
