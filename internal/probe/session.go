package probe

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mrzor/probescript/internal/catalog"
)

// Config contains session configuration. Interpreter is required; the other
// collaborators are optional and registrations needing a missing one fail
// with ErrNoDriver.
type Config struct {
	Logger      zerolog.Logger
	Interpreter Interpreter
	Reporter    Reporter
	Catalog     catalog.Catalog
	Hooker      PointHooker
	Counters    CounterFactory
	Mask        InterruptMask
	// Sync is waited on during teardown before the dispatcher's own barrier.
	Sync Synchronizer
	// CPUs is the set of CPUs counters are created on. Empty means CPU 0.
	CPUs []int
	// GroupID is the controlling thread group whose own firings are skipped.
	// Zero selects the current process.
	GroupID uint32
}

// Stats reports session activity.
type Stats struct {
	Records  int
	Dispatch DispatchStats
}

// Session owns the probes registered by one script run.
type Session struct {
	id       string
	logger   zerolog.Logger
	reporter Reporter
	catalog  catalog.Catalog
	hooker   PointHooker
	counters CounterFactory
	sync     Synchronizer
	cpus     []int
	group    uint32

	dispatcher *Dispatcher

	// mu serializes registration and teardown. Dispatch never takes it.
	mu       sync.Mutex
	registry Registry
}

// NewSession creates a session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Interpreter == nil {
		return nil, errors.New("session requires an interpreter")
	}

	cpus := append([]int(nil), cfg.CPUs...)
	if len(cpus) == 0 {
		cpus = []int{0}
	}
	units := 1
	for _, cpu := range cpus {
		if cpu < 0 {
			return nil, fmt.Errorf("invalid cpu %d", cpu)
		}
		if cpu+1 > units {
			units = cpu + 1
		}
	}

	group := cfg.GroupID
	if group == 0 {
		group = uint32(os.Getpid()) //nolint:gosec // pids fit in 32 bits
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = discardReporter{}
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		logger:     cfg.Logger.With().Str("component", "probe").Str("session", id).Logger(),
		reporter:   reporter,
		catalog:    cfg.Catalog,
		hooker:     cfg.Hooker,
		counters:   cfg.Counters,
		sync:       cfg.Sync,
		cpus:       cpus,
		group:      group,
		dispatcher: NewDispatcher(cfg.Interpreter, cfg.Mask, group, units),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// GroupID returns the controlling thread group.
func (s *Session) GroupID() uint32 { return s.group }

// Dispatcher returns the session's dispatcher.
func (s *Session) Dispatcher() *Dispatcher { return s.dispatcher }

// Register parses a "<prefix>:<rest>" probe spec and registers cl on it.
// kprobe and kprobes select a point probe on symbol <rest>; tracepoint and tp
// select counter probes on every catalog event matching <rest>. It returns
// the number of records created.
func (s *Session) Register(spec string, cl Closure) (int, error) {
	prefix, rest, ok := strings.Cut(spec, ":")
	if !ok {
		prefix = ""
	}
	switch prefix {
	case "kprobe", "kprobes":
		if err := s.RegisterPoint(rest, cl); err != nil {
			return 0, err
		}
		return 1, nil
	case "tracepoint", "tp":
		return s.RegisterTracepoint(rest, cl)
	default:
		s.reportf("unknown probe event name: %s", spec)
		return 0, fmt.Errorf("%w: %s", ErrUnknownPrefix, spec)
	}
}

// Records returns the active records in insertion order.
func (s *Session) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Records()
}

// Len returns the number of active records.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Len()
}

// Stats returns a snapshot of session activity.
func (s *Session) Stats() Stats {
	return Stats{
		Records:  s.Len(),
		Dispatch: s.dispatcher.Stats(),
	}
}

// Close tears every record down, waits until no dispatch can still be
// running, then releases the records. Teardown failures are reported and
// returned joined; the registry is always empty afterwards and the session
// accepts new registrations.
func (s *Session) Close() (TeardownReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registry.Len() == 0 {
		return TeardownReport{}, nil
	}

	var errs []error
	report := s.registry.teardownAll(func(rec Record, err error) {
		s.logger.Warn().Err(err).Str("target", rec.Target()).Msg("Probe teardown failed")
		s.reportf("cannot tear down probe %s: %v", rec.Target(), err)
		errs = append(errs, err)
	})

	if s.sync != nil {
		if err := s.sync.Synchronize(); err != nil {
			s.logger.Warn().Err(err).Msg("Environment synchronization failed")
			errs = append(errs, fmt.Errorf("synchronizing: %w", err))
		}
	}
	s.dispatcher.Quiesce()

	report.Freed = s.registry.releaseAll()
	s.logger.Debug().
		Int("torn_down", report.TornDown).
		Int("failed", report.Failed).
		Int("freed", report.Freed).
		Msg("Session probes released")

	return report, errors.Join(errs...)
}

func (s *Session) reportf(format string, args ...any) {
	s.reporter.Report(fmt.Sprintf(format, args...))
}

type discardReporter struct{}

func (discardReporter) Report(string) {}
