// Package eventstream pumps samples out of the probe ring buffer.
package eventstream

import (
	"context"
	"errors"
	"sync"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/rs/zerolog"
)

// Reader is the subset of *ringbuf.Reader the stream uses.
type Reader interface {
	Read() (ringbuf.Record, error)
}

// Handler consumes raw samples. It is always called from the stream goroutine.
type Handler interface {
	Route(sample []byte) error
}

// Stream reads samples from a ring buffer and hands them to a handler.
type Stream struct {
	reader  Reader
	handler Handler
	logger  zerolog.Logger
	stopCh  chan struct{}
	stop    sync.Once
	done    chan struct{}
}

// New creates a new Stream with the given ring buffer reader and handler.
func New(reader Reader, handler Handler, logger zerolog.Logger) *Stream {
	return &Stream{
		reader:  reader,
		handler: handler,
		logger:  logger.With().Str("component", "eventstream").Logger(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins reading samples in a goroutine.
// It returns immediately and processes samples in the background until the
// context is cancelled, Stop is called or the reader is closed.
func (s *Stream) Start(ctx context.Context) {
	go s.processSamples(ctx)
}

// Stop signals the processing goroutine to stop. A goroutine blocked in Read
// only returns once the reader is closed.
func (s *Stream) Stop() {
	s.stop.Do(func() { close(s.stopCh) })
}

// Done is closed when the processing goroutine has returned.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// processSamples is the main loop that reads and routes samples.
func (s *Stream) processSamples(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		record, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("Reading from ring buffer")
			continue
		}

		if err := s.handler.Route(record.RawSample); err != nil {
			s.logger.Debug().Err(err).Msg("Routing sample")
		}
	}
}
