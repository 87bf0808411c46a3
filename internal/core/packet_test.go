package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketProtocolData(t *testing.T) {
	pkt := NewPacket(NewFrame(time.Now(), []byte("hello")))

	_, ok := pkt.ProtocolData(ProtoSIP)
	assert.False(t, ok)
	assert.False(t, pkt.HasProtocol(ProtoSIP))

	pkt.SetProtocolData(ProtoSIP, "sip-data", nil)
	v, ok := pkt.ProtocolData(ProtoSIP)
	require.True(t, ok)
	assert.Equal(t, "sip-data", v)
	assert.True(t, pkt.HasProtocol(ProtoSIP))
}

func TestPacketReleaseInvokesFreeFuncOnlyAtZero(t *testing.T) {
	pkt := NewPacket(NewFrame(time.Now(), []byte("x")))
	freed := 0
	pkt.SetProtocolData(ProtoSDP, "sdp-data", func(p *Packet) { freed++ })

	pkt.Retain() // refs = 2
	pkt.Release()
	assert.Equal(t, 0, freed, "free func must not run while refs remain")
	_, ok := pkt.ProtocolData(ProtoSDP)
	assert.True(t, ok, "data must survive until the last release")

	pkt.Release()
	assert.Equal(t, 1, freed, "free func must run exactly once when refs reach zero")
	_, ok = pkt.ProtocolData(ProtoSDP)
	assert.False(t, ok, "protocol data must be cleared after release")
}

func TestPacketAppendFramesAndTotalBytes(t *testing.T) {
	f1 := NewFrame(time.Unix(0, 0), []byte("abcd"))
	pkt := NewPacket(f1)
	assert.Equal(t, 4, pkt.TotalBytes())

	f2 := NewFrame(time.Unix(0, 1), []byte("ef"))
	pkt.AppendFrames([]Frame{f2})
	assert.Len(t, pkt.Frames, 2)
	assert.Equal(t, 6, pkt.TotalBytes())
}

func TestPacketFirstTimestampEmpty(t *testing.T) {
	pkt := &Packet{}
	assert.Equal(t, Frame{}, pkt.FirstTimestamp())
}

func TestProtoIDName(t *testing.T) {
	cases := map[ProtoID]string{
		ProtoLink: "link",
		ProtoIP:   "ip",
		ProtoSIP:  "sip",
		ProtoRTP:  "rtp",
		ProtoHEP:  "hep",
		ProtoID(999): "unknown",
	}
	for id, want := range cases {
		assert.Equal(t, want, id.Name())
	}
}
