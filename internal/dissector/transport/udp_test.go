package transport

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otus-project/sngrep/internal/core"
)

func newPacket(data []byte) *core.Packet {
	return core.NewPacket(core.NewFrame(time.Now(), data))
}

func buildUDP(srcPort, dstPort uint16, payload []byte) []byte {
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(8+len(payload)))
	return append(hdr, payload...)
}

func TestUDPDissect(t *testing.T) {
	payload := []byte("INVITE sip:bob@biloxi.com SIP/2.0\r\n")
	data := buildUDP(5060, 5060, payload)

	d := NewUDP(core.ProtoSIP)
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Equal(t, payload, rest)

	v, ok := pkt.ProtocolData(core.ProtoUDP)
	require.True(t, ok)
	udp := v.(core.PacketUDPData)
	assert.EqualValues(t, 5060, udp.SrcPort)
	assert.EqualValues(t, 5060, udp.DstPort)
}

func TestUDPDissectTooShortReturnsUnchanged(t *testing.T) {
	d := NewUDP()
	data := []byte{1, 2, 3}
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Equal(t, data, rest)
}

func TestUDPDissectClampsInvalidLength(t *testing.T) {
	// length field lies (too small) — dissector must clamp to len(data)
	// rather than truncating the payload.
	payload := []byte("abcd")
	data := buildUDP(1, 2, payload)
	binary.BigEndian.PutUint16(data[4:6], 0)

	d := NewUDP()
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Equal(t, payload, rest)
}
