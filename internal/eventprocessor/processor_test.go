package eventprocessor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/probescript/internal/bpf"
)

func sample(cookie uint64, tgid uint32, cpu uint32, payload ...byte) []byte {
	return bpf.EncodeSample(bpf.Header{
		Cookie:  cookie,
		PidTgid: uint64(tgid)<<32 | 7,
		CPU:     cpu,
	}, payload)
}

func TestRouter_RoutesByCookie(t *testing.T) {
	r := NewRouter(zerolog.New(zerolog.NewTestWriter(t)))
	a, b := r.NextCookie(), r.NextCookie()
	require.NotEqual(t, a, b)

	var got []bpf.Header
	var payloads [][]byte
	r.Add(a, func(h bpf.Header, payload []byte) {
		got = append(got, h)
		payloads = append(payloads, append([]byte(nil), payload...))
	})
	r.Add(b, func(bpf.Header, []byte) { t.Error("wrong sink") })

	require.NoError(t, r.Route(sample(a, 99, 3, 0xaa, 0xbb)))
	require.Len(t, got, 1)
	assert.Equal(t, uint32(99), got[0].TGID())
	assert.Equal(t, uint32(3), got[0].CPU)
	assert.Equal(t, []byte{0xaa, 0xbb}, payloads[0])
	assert.Equal(t, Stats{Routed: 1}, r.Stats())
}

func TestRouter_UnknownAndMalformed(t *testing.T) {
	r := NewRouter(zerolog.Nop())

	assert.ErrorIs(t, r.Route(sample(42, 1, 0)), ErrUnknownCookie)
	assert.ErrorIs(t, r.Route([]byte{1, 2, 3}), bpf.ErrShortSample)
	assert.Equal(t, Stats{Unknown: 1, Malformed: 1}, r.Stats())
}

func TestRouter_Remove(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	c := r.NextCookie()
	calls := 0
	r.Add(c, func(bpf.Header, []byte) { calls++ })
	require.Equal(t, 1, r.Len())

	r.Remove(c)
	r.Remove(c)
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, r.Route(sample(c, 1, 0)), ErrUnknownCookie)
	assert.Zero(t, calls)
}

func TestRouter_SynchronizeWaitsForSink(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	c := r.NextCookie()
	entered := make(chan struct{})
	release := make(chan struct{})
	r.Add(c, func(bpf.Header, []byte) {
		close(entered)
		<-release
	})

	go func() { _ = r.Route(sample(c, 1, 0)) }()
	<-entered
	r.Remove(c)

	synced := make(chan struct{})
	go func() {
		_ = r.Synchronize()
		close(synced)
	}()

	select {
	case <-synced:
		t.Fatal("Synchronize returned while a sink was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-synced:
	case <-time.After(time.Second):
		t.Fatal("Synchronize did not return")
	}
}
