package tls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otus-project/sngrep/internal/core"
)

func newPacket(data []byte) *core.Packet {
	return core.NewPacket(core.NewFrame(time.Now(), data))
}

func TestDissectHandshakeRecord(t *testing.T) {
	data := []byte{contentTypeHandshake, 0x03, 0x03, 0x00, 0x10, 1, 2, 3}
	d := New()
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Nil(t, rest)
	assert.True(t, pkt.HasProtocol(core.ProtoTLS))
}

func TestDissectNotTLS(t *testing.T) {
	data := []byte("INVITE sip:bob@biloxi.com SIP/2.0\r\n")
	d := New()
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Equal(t, data, rest)
	assert.False(t, pkt.HasProtocol(core.ProtoTLS))
}

func TestProbeTagsWithoutConsuming(t *testing.T) {
	data := []byte{contentTypeApplicationData, 0x03, 0x01, 0x00, 0x05, 9, 9, 9, 9, 9}
	d := New()
	pkt := newPacket(data)
	n, ok := d.Probe(pkt, data)
	require.True(t, ok)
	assert.Zero(t, n)
	assert.True(t, pkt.HasProtocol(core.ProtoTLS))
}

func TestProbeDeclinesNonTLS(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	d := New()
	pkt := newPacket(data)
	_, ok := d.Probe(pkt, data)
	assert.False(t, ok)
}

func TestLooksLikeTLSTooShort(t *testing.T) {
	assert.False(t, looksLikeTLS([]byte{0x16, 0x03}))
}
