package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otus-project/sngrep/internal/core"
)

func msg(method string, isRequest bool, code, cseq int) *Message {
	return &Message{SIP: core.PacketSIPData{Method: method, IsRequest: isRequest, Code: code, CSeq: cseq}}
}

func TestCallFullInviteLifecycle(t *testing.T) {
	call := NewCall("call-1")
	assert.Equal(t, CallStateNone, call.State())

	call.AddMessage(msg("INVITE", true, 0, 1))
	assert.Equal(t, CallStateSetup, call.State())
	assert.True(t, call.IsInvite())

	call.AddMessage(msg("", false, 200, 1))
	assert.Equal(t, CallStateSetup, call.State(), "a 200 on the INVITE transaction alone doesn't move to in-call")

	ack := msg("ACK", true, 0, 1)
	ack.Timestamp = time.Now()
	call.AddMessage(ack)
	assert.Equal(t, CallStateInCall, call.State())

	bye := msg("BYE", true, 0, 2)
	bye.Timestamp = ack.Timestamp.Add(time.Second)
	call.AddMessage(bye)
	assert.Equal(t, CallStateCompleted, call.State())
	assert.Greater(t, call.Duration(), time.Duration(0))
}

func TestCallBusyResponse(t *testing.T) {
	call := NewCall("call-busy")
	call.AddMessage(msg("INVITE", true, 0, 1))
	call.AddMessage(msg("", false, 486, 1))
	assert.Equal(t, CallStateBusy, call.State())
}

func TestCallCancelled(t *testing.T) {
	call := NewCall("call-cancel")
	call.AddMessage(msg("INVITE", true, 0, 1))
	call.AddMessage(msg("CANCEL", true, 0, 2))
	assert.Equal(t, CallStateCancelled, call.State())
}

func TestCallRejected(t *testing.T) {
	call := NewCall("call-reject")
	call.AddMessage(msg("INVITE", true, 0, 1))
	call.AddMessage(msg("", false, 403, 1))
	assert.Equal(t, CallStateRejected, call.State())
}

func TestCallDiverted(t *testing.T) {
	call := NewCall("call-divert")
	call.AddMessage(msg("INVITE", true, 0, 1))
	call.AddMessage(msg("", false, 302, 1))
	assert.Equal(t, CallStateDiverted, call.State())
}

func TestCallNonInviteNeverAcquiresState(t *testing.T) {
	call := NewCall("call-message")
	call.AddMessage(msg("MESSAGE", true, 0, 1))
	assert.False(t, call.IsInvite())
	assert.Equal(t, CallStateNone, call.State())
}

func TestCallChangedFlagResets(t *testing.T) {
	call := NewCall("call-dirty")
	assert.False(t, call.Changed(), "a fresh call has no pending change")

	call.AddMessage(msg("INVITE", true, 0, 1))
	require.True(t, call.Changed())
	assert.False(t, call.Changed(), "Changed() clears the flag on read")
}

func TestCallAddStreamMarksChanged(t *testing.T) {
	call := NewCall("call-stream")
	call.Changed() // drain any initial state
	call.AddStream(&Stream{MediaType: core.MediaAudio})
	assert.Len(t, call.Streams, 1)
	assert.True(t, call.Changed())
}

func TestCallMessageCount(t *testing.T) {
	call := NewCall("call-count")
	assert.Zero(t, call.MessageCount())
	call.AddMessage(msg("INVITE", true, 0, 1))
	call.AddMessage(msg("ACK", true, 0, 1))
	assert.Equal(t, 2, call.MessageCount())
}
