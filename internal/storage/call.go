// Package storage implements the call/message/stream store and its
// state machine (spec.md §4.13), grounded on the original sngrep's
// src/call.c call_update_state transition table and the teacher's
// plugins/handler/skywalking/dialog state-pattern shape.
package storage

import (
	"strings"
	"sync"
	"time"

	"github.com/otus-project/sngrep/internal/core"
)

// CallState enumerates the SIP dialog lifecycle (spec.md §4.13.5),
// transitions grounded verbatim on the original's call_update_state.
type CallState int

const (
	CallStateNone CallState = iota
	CallStateSetup
	CallStateInCall
	CallStateCancelled
	CallStateRejected
	CallStateBusy
	CallStateDiverted
	CallStateCompleted
)

func (s CallState) String() string {
	switch s {
	case CallStateSetup:
		return "CALL SETUP"
	case CallStateInCall:
		return "IN CALL"
	case CallStateCancelled:
		return "CANCELLED"
	case CallStateRejected:
		return "REJECTED"
	case CallStateBusy:
		return "BUSY"
	case CallStateDiverted:
		return "DIVERTED"
	case CallStateCompleted:
		return "COMPLETED"
	default:
		return ""
	}
}

// Message is one dissected SIP message attached to a Call.
type Message struct {
	Packet    *core.Packet
	SIP       core.PacketSIPData
	Timestamp time.Time
}

// StreamStats tracks the running sequence/jitter/delta/loss bookkeeping
// for one Stream (spec.md §3's "statistics block"), updated per packet
// from the RTP sequence number and arrival time.
type StreamStats struct {
	haveSeq     bool
	lastSeq     uint16
	lastArrival time.Time
	lastDelta   time.Duration

	Delta      time.Duration // time between the two most recent packets
	Jitter     time.Duration // RFC 3550 §6.4.1 interarrival jitter estimate
	Expected   uint64        // highest seq seen minus the first seq, +1
	Lost       uint64        // Expected - PacketCount, floored at 0
}

// update folds in one newly-arrived packet's sequence number and
// arrival time (RFC 3550 §6.4.1's jitter recurrence:
// J += (|D| - J) / 16).
func (st *StreamStats) update(seq uint16, arrival time.Time) {
	if st.haveSeq {
		delta := arrival.Sub(st.lastArrival)
		st.Delta = delta
		d := delta - st.lastDelta
		if d < 0 {
			d = -d
		}
		st.Jitter += (d - st.Jitter) / 16
		st.lastDelta = delta

		// RFC 3550 extended sequence-number distance, adjusted for
		// 16-bit wraparound (spec.md leaves overflow handling
		// unspecified; wraparound is treated as forward progress, the
		// common case for a long-running stream).
		diff := seq - st.lastSeq
		st.Expected += uint64(diff)
	} else {
		st.Expected = 1
	}
	st.lastSeq = seq
	st.lastArrival = arrival
	st.haveSeq = true
}

// Stream is a registered RTP/RTCP media flow (spec.md §4.13.4),
// created from an SDP offer/answer pairing.
type Stream struct {
	MediaType   core.MediaType
	SrcAddr     core.Address
	DstAddr     core.Address
	SSRC        uint32
	Codec       string
	PacketCount uint64

	FirstPacketAt time.Time
	LastPacketAt  time.Time

	Stats StreamStats

	// Packets retains raw frames when capture.rtp is enabled (spec.md
	// §3/§4.13.2); nil when retention is off.
	Packets []*core.Packet
}

// Active reports whether the stream has seen a packet within
// threshold of now (spec.md §3's "active" predicate, default
// inactivity_threshold of 1 second).
func (s *Stream) Active(now time.Time, threshold time.Duration) bool {
	if s.LastPacketAt.IsZero() {
		return false
	}
	return now.Sub(s.LastPacketAt) <= threshold
}

// Call is one correlated SIP dialog: its messages, media streams, and
// lifecycle state (spec.md §4.13).
type Call struct {
	mu sync.Mutex

	CallID      string
	XCallID     string
	Messages    []*Message
	Streams     []*Stream
	Attributes  map[string]string

	state       CallState
	inviteCSeq  int
	setupAt     time.Time
	startMsg    *Message // conversation-start: the ACK completing the INVITE transaction
	endMsg      *Message // conversation-end: the BYE that completed the call

	// locked is true once a CallGroup has added this call (spec.md §3/
	// §4.13.1's rotate policy: "evict oldest unlocked call"). Read
	// through IsLocked/SetLocked since it's mutated from outside AddMessage.
	locked bool

	changed bool
}

// NewCall creates an empty call for callID.
func NewCall(callID string) *Call {
	return &Call{CallID: callID, Attributes: make(map[string]string)}
}

// State returns the call's current lifecycle state.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsLocked reports whether a CallGroup has claimed this call, exempting
// it from rotation-based eviction (spec.md §3, §4.13.1).
func (c *Call) IsLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// SetLocked sets the locked flag; called by CallGroup.Add/Remove.
func (c *Call) SetLocked(locked bool) {
	c.mu.Lock()
	c.locked = locked
	c.mu.Unlock()
}

// StartMessage returns the message that moved the call into
// CallStateInCall (the ACK completing the INVITE transaction), or nil
// if the call never reached that state.
func (c *Call) StartMessage() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startMsg
}

// EndMessage returns the message that moved the call into
// CallStateCompleted (the BYE), or nil if the call hasn't ended.
func (c *Call) EndMessage() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endMsg
}

// IsInvite reports whether the call's first message was an INVITE
// (spec.md §4.13.5's precondition on running the state machine at all —
// non-INVITE dialogs, e.g. bare MESSAGE/OPTIONS exchanges, never
// acquire a CallState).
func (c *Call) IsInvite() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Messages) == 0 {
		return false
	}
	return strings.EqualFold(c.Messages[0].SIP.Method, "INVITE")
}

// AddMessage appends msg to the call and advances the state machine
// (spec.md §4.13.5), exactly mirroring the original's call_update_state:
// only INVITE dialogs ever acquire a state, and a re-INVITE moves any
// state other than InCall back to CallSetup.
func (c *Call) AddMessage(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Messages = append(c.Messages, msg)
	c.changed = true

	if !c.isInviteLocked() {
		return
	}
	c.updateState(msg)
}

func (c *Call) isInviteLocked() bool {
	if len(c.Messages) == 0 {
		return false
	}
	return strings.EqualFold(c.Messages[0].SIP.Method, "INVITE")
}

func (c *Call) updateState(msg *Message) {
	sip := msg.SIP
	method := strings.ToUpper(sip.Method)
	code := sip.Code
	cseq := sip.CSeq

	switch {
	case c.state == CallStateNone:
		if !sip.IsRequest && method == "" {
			// a pure response can't start a dialog we haven't seen the
			// request for
			return
		}
		if method == "INVITE" && sip.IsRequest {
			c.inviteCSeq = cseq
			c.state = CallStateSetup
			c.setupAt = time.Now()
		}

	case c.state == CallStateSetup:
		switch {
		case method == "ACK" && cseq == c.inviteCSeq:
			c.state = CallStateInCall
			c.startMsg = msg
		case method == "CANCEL":
			c.state = CallStateCancelled
		case code == 480 || code == 486 || code == 600:
			c.state = CallStateBusy
		case code > 400 && cseq == c.inviteCSeq:
			c.state = CallStateRejected
		case code > 300:
			c.state = CallStateDiverted
		}

	case c.state == CallStateInCall:
		if method == "BYE" {
			c.state = CallStateCompleted
			c.endMsg = msg
		}

	default:
		if method == "INVITE" && sip.IsRequest {
			c.inviteCSeq = cseq
			c.state = CallStateSetup
		}
	}
}

// AddStream registers a media flow against the call (spec.md §4.13.4).
func (c *Call) AddStream(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Streams = append(c.Streams, s)
	c.changed = true
}

// Changed reports and clears the dirty flag (spec.md §4.14's "changed"
// attribute cache invalidation signal).
func (c *Call) Changed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.changed
	c.changed = false
	return v
}

// MessageCount returns the number of messages on the call.
func (c *Call) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Messages)
}

// Duration returns the in-call duration, zero if the call never
// reached CallStateInCall. Uses the timestamps of the conversation-start
// (ACK) and conversation-end (BYE) messages themselves rather than
// wall-clock time, so offline replay reports the capture's own timing.
func (c *Call) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startMsg == nil {
		return 0
	}
	end := time.Now()
	if c.endMsg != nil {
		end = c.endMsg.Timestamp
	}
	return end.Sub(c.startMsg.Timestamp)
}

// CallGroup is a user- or caller-composed set of calls with aggregated
// message and stream arrays (spec.md §3). Adding a call locks it,
// exempting it from rotation-based eviction.
type CallGroup struct {
	mu    sync.Mutex
	Name  string
	calls []*Call
}

// NewCallGroup creates an empty, named group.
func NewCallGroup(name string) *CallGroup {
	return &CallGroup{Name: name}
}

// Add joins call to the group and locks it against rotation eviction.
// A no-op if call is already a member.
func (g *CallGroup) Add(call *Call) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.calls {
		if c == call {
			return
		}
	}
	g.calls = append(g.calls, call)
	call.SetLocked(true)
}

// Remove drops call from the group and unlocks it.
func (g *CallGroup) Remove(call *Call) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, c := range g.calls {
		if c == call {
			g.calls = append(g.calls[:i], g.calls[i+1:]...)
			call.SetLocked(false)
			return
		}
	}
}

// Calls returns a snapshot of the group's member calls.
func (g *CallGroup) Calls() []*Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// Messages returns the aggregated, call-order-preserved message list
// across every call in the group (spec.md §3's "aggregated message ...
// arrays").
func (g *CallGroup) Messages() []*Message {
	g.mu.Lock()
	calls := append([]*Call(nil), g.calls...)
	g.mu.Unlock()

	var out []*Message
	for _, c := range calls {
		c.mu.Lock()
		out = append(out, c.Messages...)
		c.mu.Unlock()
	}
	return out
}

// Streams returns the aggregated stream list across every call in the
// group.
func (g *CallGroup) Streams() []*Stream {
	g.mu.Lock()
	calls := append([]*Call(nil), g.calls...)
	g.mu.Unlock()

	var out []*Stream
	for _, c := range calls {
		c.mu.Lock()
		out = append(out, c.Streams...)
		c.mu.Unlock()
	}
	return out
}
