package engine

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otus-project/sngrep/internal/capture"
	"github.com/otus-project/sngrep/internal/core"
)

type fakeInput struct {
	name string
	lt   layers.LinkType
}

func (f fakeInput) Name() string                     { return f.name }
func (f fakeInput) LinkType() layers.LinkType         { return f.lt }
func (f fakeInput) SetFilter(string) error            { return nil }
func (f fakeInput) ReadPacket() (core.Frame, error)   { return core.Frame{}, nil }
func (f fakeInput) Close() error                      { return nil }

var _ capture.Input = fakeInput{}

func buildIPv4UDPSIP(payload []byte) []byte {
	udp := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(udp[0:2], 5060)
	binary.BigEndian.PutUint16(udp[2:4], 5060)
	binary.BigEndian.PutUint16(udp[4:6], uint16(len(udp)))
	copy(udp[8:], payload)

	ip := make([]byte, 20+len(udp))
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(len(ip)))
	ip[9] = 17 // UDP
	copy(ip[12:16], []byte{10, 0, 0, 1})
	copy(ip[16:20], []byte{10, 0, 0, 2})
	copy(ip[20:], udp)
	return ip
}

func TestHandleFrameDissectsSIPOverUDPAndEnqueuesToStorage(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)

	payload := []byte("INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: engine-test\r\nCSeq: 1 INVITE\r\nFrom: <sip:alice@atlanta.com>\r\nTo: <sip:bob@biloxi.com>\r\nContent-Length: 0\r\n\r\n")
	data := buildIPv4UDPSIP(payload)
	frame := core.NewFrame(time.Now(), data)

	in := fakeInput{name: "raw0", lt: layers.LinkTypeRaw}
	err = e.handleFrame(in, frame)
	require.NoError(t, err)

	go e.storage.Run()
	defer e.storage.Stop()

	require.Eventually(t, func() bool {
		_, found := e.Storage().CallByID("engine-test")
		return found
	}, time.Second, time.Millisecond)
}

func TestEnsureLinkDissectorRegistersOnlyOnce(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)

	e.ensureLinkDissector(layers.LinkTypeEthernet)
	assert.True(t, e.linkRegistered)
	e.ensureLinkDissector(layers.LinkTypeRaw)
	assert.True(t, e.linkRegistered, "a second call must not re-register for a different datalink")
}

func TestDispatchIPPayloadRoutesByProtocolNumber(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)

	pkt := core.NewPacket(core.NewFrame(time.Now(), nil))
	rest, err := e.dispatchIPPayload(99, pkt, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, rest, "an unknown protocol number must pass the payload through unchanged")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
