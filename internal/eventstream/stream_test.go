package eventstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu      sync.Mutex
	records []ringbuf.Record
	errs    []error
}

func (f *fakeReader) Read() (ringbuf.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return ringbuf.Record{}, err
	}
	if len(f.records) == 0 {
		return ringbuf.Record{}, ringbuf.ErrClosed
	}
	r := f.records[0]
	f.records = f.records[1:]
	return r, nil
}

type fakeHandler struct {
	mu      sync.Mutex
	samples [][]byte
}

func (f *fakeHandler) Route(sample []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
	if len(sample) == 0 {
		return errors.New("empty sample")
	}
	return nil
}

func TestStream_RoutesUntilClosed(t *testing.T) {
	reader := &fakeReader{
		records: []ringbuf.Record{
			{RawSample: []byte{1}},
			{RawSample: []byte{}},
			{RawSample: []byte{2, 3}},
		},
		errs: []error{errors.New("transient")},
	}
	handler := &fakeHandler{}

	s := New(reader, handler, zerolog.New(zerolog.NewTestWriter(t)))
	s.Start(context.Background())

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not stop on a closed reader")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.samples, 3, "read errors and routing errors do not stop the stream")
	assert.Equal(t, []byte{2, 3}, handler.samples[2])
}

type blockingReader struct {
	release chan struct{}
}

func (b *blockingReader) Read() (ringbuf.Record, error) {
	<-b.release
	return ringbuf.Record{RawSample: []byte{0}}, nil
}

func TestStream_StopsOnContext(t *testing.T) {
	reader := &blockingReader{release: make(chan struct{})}
	s := New(reader, &fakeHandler{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()
	s.Stop()
	close(reader.release)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}
