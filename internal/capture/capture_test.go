package capture

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otus-project/sngrep/internal/core"
)

// fakeInput replays a fixed slice of frames, then reports io.EOF.
type fakeInput struct {
	mu      sync.Mutex
	name    string
	frames  []core.Frame
	idx     int
	closed  bool
	filters []string
}

func (f *fakeInput) Name() string               { return f.name }
func (f *fakeInput) LinkType() layers.LinkType   { return layers.LinkTypeEthernet }
func (f *fakeInput) SetFilter(expr string) error { f.filters = append(f.filters, expr); return nil }
func (f *fakeInput) Close() error                { f.mu.Lock(); f.closed = true; f.mu.Unlock(); return nil }

func (f *fakeInput) ReadPacket() (core.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.frames) {
		return core.Frame{}, io.EOF
	}
	fr := f.frames[f.idx]
	f.idx++
	return fr, nil
}

type failingFilterInput struct{ fakeInput }

func (f *failingFilterInput) SetFilter(string) error { return assert.AnError }

type fakeOutput struct {
	mu      sync.Mutex
	written int
	closed  bool
}

func (o *fakeOutput) Name() string { return "fake-output" }
func (o *fakeOutput) WritePacket(frame core.Frame, linkType layers.LinkType) error {
	o.mu.Lock()
	o.written++
	o.mu.Unlock()
	return nil
}
func (o *fakeOutput) Close() error { o.mu.Lock(); o.closed = true; o.mu.Unlock(); return nil }

func TestManagerDissectsEveryFrameAndClosesOnStop(t *testing.T) {
	in := &fakeInput{name: "in1", frames: []core.Frame{
		core.NewFrame(time.Now(), []byte("a")),
		core.NewFrame(time.Now(), []byte("b")),
	}}
	out := &fakeOutput{}

	var dissected int
	var mu sync.Mutex
	m := NewManager(func(Input, core.Frame) error {
		mu.Lock()
		dissected++
		mu.Unlock()
		return nil
	})
	m.AddInput(in)
	m.AddOutput(out)

	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dissected == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Stop())
	assert.True(t, in.closed)
	assert.True(t, out.closed)
	assert.Equal(t, 2, out.written)

	stats := m.StatsSnapshot()
	assert.EqualValues(t, 2, stats.Received)
	assert.Zero(t, stats.Dropped)
}

func TestManagerRecordsDroppedOnDissectError(t *testing.T) {
	in := &fakeInput{name: "in1", frames: []core.Frame{core.NewFrame(time.Now(), []byte("a"))}}
	m := NewManager(func(Input, core.Frame) error { return assert.AnError })
	m.AddInput(in)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool {
		return m.StatsSnapshot().Dropped == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, m.Stop())
}

func TestManagerPauseSkipsDissect(t *testing.T) {
	in := &fakeInput{name: "paused-in", frames: []core.Frame{
		core.NewFrame(time.Now(), []byte("a")),
		core.NewFrame(time.Now(), []byte("b")),
	}}
	var dissected int
	var mu sync.Mutex
	m := NewManager(func(Input, core.Frame) error {
		mu.Lock()
		dissected++
		mu.Unlock()
		return nil
	})
	m.AddInput(in)
	m.Pause()
	assert.True(t, m.Paused())

	require.NoError(t, m.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	got := dissected
	mu.Unlock()
	assert.Zero(t, got, "a paused manager must not dissect incoming frames")

	m.Resume()
	assert.False(t, m.Paused())
	require.NoError(t, m.Stop())
}

func TestSetFilterAppliesToAllInputsAndCombinesErrors(t *testing.T) {
	good := &fakeInput{name: "good"}
	bad := &failingFilterInput{fakeInput: fakeInput{name: "bad"}}

	m := NewManager(func(Input, core.Frame) error { return nil })
	m.AddInput(good)
	m.AddInput(bad)

	err := m.SetFilter("udp port 5060")
	assert.Error(t, err)
	assert.Equal(t, []string{"udp port 5060"}, good.filters)
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	in := &fakeInput{name: "idem"}
	m := NewManager(func(Input, core.Frame) error { return nil })
	m.AddInput(in)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()), "a second Start while running must be a no-op, not a second reader")
	require.NoError(t, m.Stop())
}
