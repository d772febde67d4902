package probe

import (
	"fmt"

	"github.com/mrzor/probescript/internal/catalog"
	"github.com/mrzor/probescript/internal/event"
)

// pointSubsystem is the subsystem name given to synthesized point descriptors.
const pointSubsystem = "kprobes"

// RegisterPoint hooks symbol and dispatches every hit to cl. On failure no
// record is created and a diagnostic is reported.
func (s *Session) RegisterPoint(symbol string, cl Closure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hooker == nil {
		s.reportf("Cannot register probe: %s", symbol)
		return fmt.Errorf("registering point probe %s: %w", symbol, ErrNoDriver)
	}
	if symbol == "" {
		s.reportf("Cannot register probe: %s", symbol)
		return fmt.Errorf("registering point probe: %w", ErrSymbolNotFound)
	}

	rec := &PointRecord{
		recordBase: recordBase{closure: cl, group: s.group},
		symbol:     symbol,
		desc:       &catalog.EventDescriptor{Name: symbol, Subsystem: pointSubsystem},
	}

	// Late hits drained by the barrier must not read the released record.
	desc, dispatcher := rec.desc, s.dispatcher
	hook, err := s.hooker.Hook(symbol, func(unit int, tgid uint32, regs *event.Registers) {
		dispatcher.FirePoint(unit, tgid, desc, regs, cl)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Cannot register point probe")
		s.reportf("Cannot register probe: %s", symbol)
		return fmt.Errorf("registering point probe %s: %w", symbol, err)
	}
	rec.hook = hook

	s.registry.Add(rec)
	s.logger.Debug().Str("symbol", symbol).Msg("Point probe registered")
	return nil
}
