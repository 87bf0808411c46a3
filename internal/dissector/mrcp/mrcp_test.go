package mrcp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otus-project/sngrep/internal/core"
)

func newPacket(data []byte) *core.Packet {
	return core.NewPacket(core.NewFrame(time.Now(), data))
}

func buildRequest(channel, body string) []byte {
	startLine := "MRCP/2.0 000000 SPEAK 1"
	header1 := "Channel-Identifier: " + channel
	header2 := fmt.Sprintf("Content-Length: %d", len(body))
	msg := startLine + mrcpCRLF + header1 + mrcpCRLF + header2 + mrcpCRLF + mrcpCRLF + body
	return []byte(msg)
}

func TestDissectRequest(t *testing.T) {
	data := buildRequest("audio-channel@speechsynth", "hello world")
	d := New()
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Empty(t, rest)

	v, ok := pkt.ProtocolData(core.ProtoMRCP)
	require.True(t, ok)
	m := v.(core.PacketMRCPData)
	assert.Equal(t, core.MRCPRequest, m.Type)
	assert.Equal(t, "SPEAK", m.Method)
	assert.EqualValues(t, 1, m.RequestID)
	assert.Equal(t, "audio-channel@speechsynth", m.Channel)
	assert.Equal(t, mrcpMethods["SPEAK"], m.Code)
}

func TestDissectResponse(t *testing.T) {
	startLine := "MRCP/2.0 000000 1 200 COMPLETE"
	header1 := "Channel-Identifier: audio-channel@speechsynth"
	body := ""
	header2 := "Content-Length: 0"
	msg := startLine + mrcpCRLF + header1 + mrcpCRLF + header2 + mrcpCRLF + mrcpCRLF + body
	data := []byte(msg)

	d := New()
	pkt := newPacket(data)
	_, err := d.Dissect(pkt, data)
	require.NoError(t, err)

	v, ok := pkt.ProtocolData(core.ProtoMRCP)
	require.True(t, ok)
	m := v.(core.PacketMRCPData)
	assert.Equal(t, core.MRCPResponse, m.Type)
	assert.Equal(t, 200, m.Code)
	assert.EqualValues(t, 1, m.RequestID)
}

func TestDissectNotMRCP(t *testing.T) {
	data := []byte("INVITE sip:bob@biloxi.com SIP/2.0\r\n")
	d := New()
	pkt := newPacket(data)
	rest, err := d.Dissect(pkt, data)
	require.NoError(t, err)
	assert.Equal(t, data, rest)
}

func TestDissectIncompleteBodyReturnsUnchanged(t *testing.T) {
	full := buildRequest("chan@synth", "complete body")
	partial := full[:len(full)-3] // body truncated, Content-Length no longer matches
	d := New()
	pkt := newPacket(partial)
	rest, err := d.Dissect(pkt, partial)
	require.NoError(t, err)
	assert.Equal(t, partial, rest)
	assert.False(t, pkt.HasProtocol(core.ProtoMRCP))
}

func TestMethodFromStringFallsBackToNumeric(t *testing.T) {
	assert.Equal(t, mrcpMethods["SPEAK"], methodFromString("SPEAK"))
	assert.Equal(t, 99, methodFromString("99"))
	assert.Equal(t, 0, methodFromString("unknown-method"))
}
