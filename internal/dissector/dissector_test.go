package dissector

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otus-project/sngrep/internal/core"
)

// fakeDissector strips a fixed prefix length and declares a fixed child
// chain, for exercising Registry.Dissect without a real protocol.
type fakeDissector struct {
	id       core.ProtoID
	strip    int
	subs     []core.ProtoID
	declined bool
	err      error
	freed    *int
}

func (f *fakeDissector) ID() core.ProtoID              { return f.id }
func (f *fakeDissector) Name() string                  { return f.id.Name() }
func (f *fakeDissector) SubDissectors() []core.ProtoID { return f.subs }

func (f *fakeDissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	if f.err != nil {
		return data, f.err
	}
	if f.declined || f.strip > len(data) {
		return data, nil
	}
	pkt.SetProtocolData(f.id, "ok", nil)
	return data[f.strip:], nil
}

func (f *fakeDissector) FreeData(pkt *core.Packet) {
	if f.freed != nil {
		*f.freed++
	}
}

func newPacket(data []byte) *core.Packet {
	return core.NewPacket(core.NewFrame(time.Now(), data))
}

func TestRegistryDissectUnknownRootReturnsUnchanged(t *testing.T) {
	r := NewRegistry()
	data := []byte{1, 2, 3}
	pkt := newPacket(data)
	rest, err := r.Dissect(core.ProtoLink, pkt, data)
	require.NoError(t, err)
	assert.Equal(t, data, rest)
}

func TestRegistryDissectSingleLevel(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeDissector{id: core.ProtoLink, strip: 2, subs: nil})

	data := []byte{1, 2, 3, 4}
	pkt := newPacket(data)
	rest, err := r.Dissect(core.ProtoLink, pkt, data)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4}, rest)
	assert.True(t, pkt.HasProtocol(core.ProtoLink))
}

func TestRegistryDissectWalksSubChain(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeDissector{id: core.ProtoLink, strip: 1, subs: []core.ProtoID{core.ProtoIP}})
	r.Register(&fakeDissector{id: core.ProtoIP, strip: 2, subs: []core.ProtoID{core.ProtoUDP}})
	r.Register(&fakeDissector{id: core.ProtoUDP, strip: 1, subs: nil})

	data := []byte{0xaa, 1, 2, 3, 4, 5}
	pkt := newPacket(data)
	rest, err := r.Dissect(core.ProtoLink, pkt, data)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, rest)
	for _, id := range []core.ProtoID{core.ProtoLink, core.ProtoIP, core.ProtoUDP} {
		assert.True(t, pkt.HasProtocol(id), "%s should have attached data", id.Name())
	}
}

func TestRegistryDissectDisabledChildStopsChain(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeDissector{id: core.ProtoLink, strip: 1, subs: []core.ProtoID{core.ProtoIP}})
	// ProtoIP intentionally not registered: chain must stop, not error.

	data := []byte{1, 2, 3}
	pkt := newPacket(data)
	rest, err := r.Dissect(core.ProtoLink, pkt, data)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3}, rest)
	assert.False(t, pkt.HasProtocol(core.ProtoIP))
}

func TestRegistryDissectSiblingDeclinesTriesNext(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeDissector{id: core.ProtoLink, strip: 1, subs: []core.ProtoID{core.ProtoSIP, core.ProtoRTP}})
	r.Register(&fakeDissector{id: core.ProtoSIP, declined: true})
	r.Register(&fakeDissector{id: core.ProtoRTP, strip: 1})

	data := []byte{1, 2, 3}
	pkt := newPacket(data)
	rest, err := r.Dissect(core.ProtoLink, pkt, data)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, rest)
	assert.False(t, pkt.HasProtocol(core.ProtoSIP))
	assert.True(t, pkt.HasProtocol(core.ProtoRTP))
}

func TestRegistryDissectRootErrorReturnsOriginalData(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeDissector{id: core.ProtoLink, err: errors.New("boom")})

	data := []byte{9, 9, 9}
	pkt := newPacket(data)
	rest, err := r.Dissect(core.ProtoLink, pkt, data)
	require.Error(t, err)
	assert.Equal(t, data, rest)
}

func TestRegistryFreeFuncFor(t *testing.T) {
	r := NewRegistry()
	freed := 0
	r.Register(&fakeDissector{id: core.ProtoSIP, freed: &freed})

	fn := r.FreeFuncFor(core.ProtoSIP)
	require.NotNil(t, fn)
	fn(newPacket(nil))
	assert.Equal(t, 1, freed)

	assert.Nil(t, r.FreeFuncFor(core.ProtoRTP), "unregistered id has no free func")
}

func TestRegistryEnabledAndGet(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Enabled(core.ProtoSIP))

	d := &fakeDissector{id: core.ProtoSIP}
	r.Register(d)
	assert.True(t, r.Enabled(core.ProtoSIP))

	got, ok := r.Get(core.ProtoSIP)
	require.True(t, ok)
	assert.Same(t, d, got)
}
