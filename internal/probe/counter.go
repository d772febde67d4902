package probe

import (
	"fmt"

	"github.com/mrzor/probescript/internal/catalog"
	"github.com/mrzor/probescript/internal/event"
	"github.com/mrzor/probescript/internal/matcher"
)

// RegisterTracepoint arms one counter per CPU for every catalog event that
// matches filter, dispatching every sample to cl. Per-CPU failures are
// reported and skipped. It returns the number of counters armed.
func (s *Session) RegisterTracepoint(filter string, cl Closure) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.catalog == nil {
		return 0, fmt.Errorf("registering tracepoint %q: %w", filter, catalog.ErrNoCatalog)
	}
	if s.counters == nil {
		return 0, fmt.Errorf("registering tracepoint %q: %w", filter, ErrNoDriver)
	}

	events, err := matcher.Select(s.catalog, filter)
	if err != nil {
		return 0, fmt.Errorf("registering tracepoint %q: %w", filter, err)
	}

	armed := 0
	for _, desc := range events {
		s.reportf("enable tracepoint event: %s", desc.Name)
		class := event.Classify(desc.Name)
		for _, cpu := range s.cpus {
			if err := s.armCounter(desc, class, cpu, cl); err != nil {
				s.logger.Warn().Err(err).Str("event", desc.Name).Int("cpu", cpu).Msg("Cannot arm counter")
				s.reportf("unable to create tracepoint event %s on cpu %d: %v", desc.Name, cpu, err)
				continue
			}
			armed++
		}
	}

	s.logger.Debug().Str("filter", filter).Int("events", len(events)).Int("armed", armed).Msg("Tracepoint probes registered")
	return armed, nil
}

func (s *Session) armCounter(desc *catalog.EventDescriptor, class event.Classification, cpu int, cl Closure) error {
	dispatcher := s.dispatcher
	counter, err := s.counters.CreateCounter(cpu, desc, func(sample Sample) {
		dispatcher.FireCounter(sample, desc, class, cl)
	})
	if err != nil {
		return err
	}
	if err := counter.Enable(); err != nil {
		if rerr := counter.Release(); rerr != nil {
			s.logger.Debug().Err(rerr).Msg("Releasing counter that failed to enable")
		}
		return fmt.Errorf("enabling: %w", err)
	}

	s.registry.Add(&CounterRecord{
		recordBase: recordBase{closure: cl, group: s.group},
		desc:       desc,
		class:      class,
		cpu:        cpu,
		counter:    counter,
	})
	return nil
}
