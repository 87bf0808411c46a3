package storage

import (
	"regexp"
	"sync"

	"github.com/otus-project/sngrep/internal/core"
)

// FilterKind enumerates spec.md §4.15's seven filter kinds.
type FilterKind int

const (
	FilterSIPFrom FilterKind = iota
	FilterSIPTo
	FilterSourceAddress
	FilterDestinationAddress
	FilterMethod
	FilterPayload
	FilterCallListLine
)

// triState memoizes a call's last filter verdict (spec.md §4.15's
// "filtered" tri-state): unknown forces recomputation.
type triState int

const (
	triUnknown triState = iota
	triMatch
	triNoMatch
)

// Filter holds the active regex for each kind and memoizes per-call
// results (spec.md §4.15).
type Filter struct {
	mu      sync.RWMutex
	regexes map[FilterKind]*regexp.Regexp
	memo    map[*Call]triState

	// RenderCallLine formats a call as its presentation row, for the
	// call-list-line filter kind. Injected because row rendering is a
	// presentation concern outside storage.
	RenderCallLine func(call *Call) string
}

// NewFilter builds an empty Filter (no kinds configured, everything
// matches).
func NewFilter() *Filter {
	return &Filter{
		regexes: make(map[FilterKind]*regexp.Regexp),
		memo:    make(map[*Call]triState),
	}
}

// Set compiles expr (case-insensitive) for kind, or clears it if expr
// is empty.
func (f *Filter) Set(kind FilterKind, expr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if expr == "" {
		delete(f.regexes, kind)
		f.resetLocked()
		return nil
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return core.ErrInvalidMatchRegex
	}
	f.regexes[kind] = re
	f.resetLocked()
	return nil
}

// Reset invalidates one call's memoized verdict (called when the call
// changes).
func (f *Filter) Reset(call *Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memo, call)
}

// ResetAll invalidates every memoized verdict (spec.md §4.15's
// reset_calls, e.g. after a filter's regex changes).
func (f *Filter) ResetAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetLocked()
}

func (f *Filter) resetLocked() {
	f.memo = make(map[*Call]triState)
}

// Matches reports whether call passes every configured filter kind
// (spec.md §4.15): all kinds match against the call's first message,
// except payload which matches if any message's payload matches.
func (f *Filter) Matches(call *Call) bool {
	f.mu.RLock()
	if v, ok := f.memo[call]; ok {
		f.mu.RUnlock()
		return v == triMatch
	}
	f.mu.RUnlock()

	result := f.evaluate(call)

	f.mu.Lock()
	if result {
		f.memo[call] = triMatch
	} else {
		f.memo[call] = triNoMatch
	}
	f.mu.Unlock()

	return result
}

func (f *Filter) evaluate(call *Call) bool {
	call.mu.Lock()
	var first *Message
	if len(call.Messages) > 0 {
		first = call.Messages[0]
	}
	messages := append([]*Message(nil), call.Messages...)
	call.mu.Unlock()

	f.mu.RLock()
	defer f.mu.RUnlock()

	if re, ok := f.regexes[FilterSIPFrom]; ok {
		if first == nil || !re.MatchString(first.SIP.From) {
			return false
		}
	}
	if re, ok := f.regexes[FilterSIPTo]; ok {
		if first == nil || !re.MatchString(first.SIP.To) {
			return false
		}
	}
	if re, ok := f.regexes[FilterSourceAddress]; ok {
		if first == nil || !matchesPacketField(first, re, core.ProtoIP, "src") {
			return false
		}
	}
	if re, ok := f.regexes[FilterDestinationAddress]; ok {
		if first == nil || !matchesPacketField(first, re, core.ProtoIP, "dst") {
			return false
		}
	}
	if re, ok := f.regexes[FilterMethod]; ok {
		if first == nil || !re.MatchString(first.SIP.Method) {
			return false
		}
	}
	if re, ok := f.regexes[FilterPayload]; ok {
		matched := false
		for _, m := range messages {
			if re.MatchString(m.SIP.Payload) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if re, ok := f.regexes[FilterCallListLine]; ok {
		if f.RenderCallLine == nil || !re.MatchString(f.RenderCallLine(call)) {
			return false
		}
	}

	return true
}

func matchesPacketField(msg *Message, re *regexp.Regexp, proto core.ProtoID, which string) bool {
	data, ok := msg.Packet.ProtocolData(proto)
	if !ok {
		return false
	}
	ip, ok := data.(core.PacketIPData)
	if !ok {
		return false
	}
	if which == "src" {
		return re.MatchString(ip.SrcIP)
	}
	return re.MatchString(ip.DstIP)
}
