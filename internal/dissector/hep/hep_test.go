package hep

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

func chunk(typ uint16, value []byte) []byte {
	buf := make([]byte, chunkHeaderLen+len(value))
	binary.BigEndian.PutUint16(buf[0:2], 0) // vendor
	binary.BigEndian.PutUint16(buf[2:4], typ)
	binary.BigEndian.PutUint16(buf[4:6], uint16(chunkHeaderLen+len(value)))
	copy(buf[chunkHeaderLen:], value)
	return buf
}

func buildHEPFrame(authKey string, payload []byte) []byte {
	var body []byte
	ipProto := make([]byte, 1)
	ipProto[0] = 17 // UDP
	body = append(body, chunk(chunkIPProto, ipProto)...)
	body = append(body, chunk(chunkSrcIPv4, []byte{192, 168, 1, 100})...)
	body = append(body, chunk(chunkDstIPv4, []byte{192, 168, 1, 200})...)

	srcPort := make([]byte, 2)
	binary.BigEndian.PutUint16(srcPort, 5060)
	body = append(body, chunk(chunkSrcPort, srcPort)...)

	dstPort := make([]byte, 2)
	binary.BigEndian.PutUint16(dstPort, 5060)
	body = append(body, chunk(chunkDstPort, dstPort)...)

	if authKey != "" {
		body = append(body, chunk(chunkAuthKey, []byte(authKey))...)
	}
	body = append(body, chunk(chunkPayload, payload)...)

	header := make([]byte, 6)
	copy(header[0:4], hepMagic)
	binary.BigEndian.PutUint16(header[4:6], uint16(6+len(body)))
	return append(header, body...)
}

func TestDissectHEPFrameNoAuth(t *testing.T) {
	sipPayload := []byte("INVITE sip:bob@biloxi.com SIP/2.0\r\n")
	data := buildHEPFrame("", sipPayload)

	d := New("", core.ProtoSIP)
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Equal(t, sipPayload, rest)

	v, ok := pkt.ProtocolData(core.ProtoIP)
	require.True(t, ok)
	ip := v.(core.PacketIPData)
	assert.Equal(t, "192.168.1.100", ip.SrcIP)
	assert.Equal(t, "192.168.1.200", ip.DstIP)
	assert.EqualValues(t, 17, ip.Protocol)

	u, ok := pkt.ProtocolData(core.ProtoUDP)
	require.True(t, ok)
	udp := u.(core.PacketUDPData)
	assert.EqualValues(t, 5060, udp.SrcPort)
	assert.EqualValues(t, 5060, udp.DstPort)
}

func TestDissectHEPFrameAuthKeyMismatchRejected(t *testing.T) {
	data := buildHEPFrame("wrong-key", []byte("payload"))
	d := New("expected-key", core.ProtoSIP)
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Equal(t, data, rest)
	assert.False(t, pkt.HasProtocol(core.ProtoIP))
}

func TestDissectHEPFrameAuthKeyMatch(t *testing.T) {
	payload := []byte("payload-bytes")
	data := buildHEPFrame("secret", payload)
	d := New("secret", core.ProtoSIP)
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Equal(t, payload, rest)
}

func TestDissectNotHEPReturnsUnchanged(t *testing.T) {
	data := []byte("not a hep frame at all")
	d := New("", core.ProtoSIP)
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Equal(t, data, rest)
}
