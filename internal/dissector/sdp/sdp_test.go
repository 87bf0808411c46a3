package sdp

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

func TestDissectBasicAudio(t *testing.T) {
	body := "v=0\r\n" +
		"o=alice 2890844526 2890844526 IN IP4 192.168.1.100\r\n" +
		"s=Session\r\n" +
		"c=IN IP4 192.168.1.100\r\n" +
		"t=0 0\r\n" +
		"m=audio 49170 RTP/AVP 0 8\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n"

	d := New()
	pkt := newPacket([]byte(body))
	rest, err := d.Dissect(pkt, []byte(body))
	require.NoError(t, err)
	assert.Nil(t, rest)

	data, ok := pkt.ProtocolData(core.ProtoSDP)
	require.True(t, ok)
	sdpData := data.(core.PacketSDPData)
	assert.Equal(t, "192.168.1.100", sdpData.ConnectionIP)
	require.Len(t, sdpData.Media, 1)

	m := sdpData.Media[0]
	assert.Equal(t, uint16(49170), m.RTPPort)
	assert.Equal(t, uint16(49171), m.RTCPPort, "default RTCP port is RTP port + 1")
	require.Len(t, m.Formats, 2)
	assert.Equal(t, "PCMU", m.Formats[0].Alias)
	assert.Equal(t, "PCMA", m.Formats[1].Alias)
}

func TestDissectRTCPMux(t *testing.T) {
	body := "v=0\r\nc=IN IP4 10.0.0.1\r\nm=audio 50000 RTP/AVP 0\r\na=rtcp-mux\r\na=rtpmap:0 PCMU/8000\r\n"
	d := New()
	pkt := newPacket([]byte(body))
	_, err := d.Dissect(pkt, []byte(body))
	require.NoError(t, err)

	data, _ := pkt.ProtocolData(core.ProtoSDP)
	m := data.(core.PacketSDPData).Media[0]
	assert.Equal(t, m.RTPPort, m.RTCPPort)
}

func TestDissectExplicitRTCPPort(t *testing.T) {
	body := "v=0\r\nc=IN IP4 10.0.0.1\r\nm=audio 50000 RTP/AVP 0\r\na=rtcp:50001\r\na=rtpmap:0 PCMU/8000\r\n"
	d := New()
	pkt := newPacket([]byte(body))
	_, err := d.Dissect(pkt, []byte(body))
	require.NoError(t, err)

	data, _ := pkt.ProtocolData(core.ProtoSDP)
	m := data.(core.PacketSDPData).Media[0]
	assert.EqualValues(t, 50001, m.RTCPPort)
}

func TestDissectMultipleMediaStreams(t *testing.T) {
	body := "v=0\r\nc=IN IP4 10.0.0.1\r\n" +
		"m=audio 50000 RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\n" +
		"m=video 50002 RTP/AVP 31\r\na=rtpmap:31 H261/90000\r\n"
	d := New()
	pkt := newPacket([]byte(body))
	_, err := d.Dissect(pkt, []byte(body))
	require.NoError(t, err)

	data, _ := pkt.ProtocolData(core.ProtoSDP)
	media := data.(core.PacketSDPData).Media
	require.Len(t, media, 2)
	assert.Equal(t, core.ParseMediaType("audio"), media[0].Type)
	assert.Equal(t, core.ParseMediaType("video"), media[1].Type)
}

func TestDissectNonSDPReturnsUnchanged(t *testing.T) {
	body := "this is not sdp at all"
	d := New()
	pkt := newPacket([]byte(body))
	rest, err := d.Dissect(pkt, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, []byte(body), rest)
	assert.False(t, pkt.HasProtocol(core.ProtoSDP))
}
