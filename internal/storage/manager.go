package storage

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/otus-project/sngrep/internal/core"
)

// Config tunes Storage per spec.md §4.13/§5's resource limits.
type Config struct {
	MaxQueueSize  int
	CallLimit     int           // 0 = unbounded
	Rotate        bool          // evict oldest unlocked call when CallLimit reached
	MatchRegex    string        // §4.13.1's "match" filter on new-call payload
	InvertMatch   bool
	OnlyInvite    bool
	OnlyComplete  bool
	MemoryLimit   uint64        // bytes; 0 disables the watchdog
	WatchInterval time.Duration // default 500ms per spec.md §4.13
	CaptureRTP    bool          // retain RTP packets in stream buffers
	CaptureMode   string        // "none" drops frame bytes after parsing
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 10000
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 500 * time.Millisecond
	}
	return c
}

// job is one dequeued unit of work: a dissected packet ready for
// storage's protocol-specific handling (spec.md §4.13's per-packet
// steps).
type job struct {
	pkt *core.Packet
}

// Storage is the SIP-dialog/media-stream store (spec.md §4.13): a
// bounded producer/consumer queue feeding call correlation, stream
// registration and the call state machine.
type Storage struct {
	cfg Config

	queue chan job

	mu          sync.RWMutex
	calls       []*Call
	callsByID   map[string]*Call
	nextIndex   int
	expected    map[string]expectedStream

	matchRe *regexp.Regexp

	attrs  *attributeCache
	filter *Filter

	stopOnce sync.Once
	done     chan struct{}

	MemoryUsage func() uint64 // injected allocator-usage probe; nil disables the watchdog
	onOverLimit func(error)   // invoked once if the memory watchdog trips
}

// expectedStream is one entry in the "dst-ip:dst-port" -> owning
// message map built by §4.13.4's stream registration.
type expectedStream struct {
	call      *Call
	sdpMedia  core.PacketSDPMedia
	offerTime time.Time
}

// New builds a Storage with cfg (zero value OK).
func New(cfg Config) (*Storage, error) {
	cfg = cfg.withDefaults()
	var matchRe *regexp.Regexp
	if cfg.MatchRegex != "" {
		re, err := regexp.Compile("(?i)" + cfg.MatchRegex)
		if err != nil {
			return nil, fmt.Errorf("storage: invalid match regex: %w", err)
		}
		matchRe = re
	}
	return &Storage{
		cfg:       cfg,
		queue:     make(chan job, cfg.MaxQueueSize),
		callsByID: make(map[string]*Call),
		expected:  make(map[string]expectedStream),
		matchRe:   matchRe,
		attrs:     newAttributeCache(),
		filter:    NewFilter(),
		done:      make(chan struct{}),
	}, nil
}

// Enqueue submits a dissected packet for processing. Blocks (the
// "producer waits when full" policy of spec.md §4.13) once the queue
// reaches MaxQueueSize.
func (s *Storage) Enqueue(pkt *core.Packet) {
	pkt.Retain()
	s.queue <- job{pkt: pkt}
}

// Run drives the consumer loop and the memory watchdog until stopped.
// Spec.md §5's suspension points: queue pop with a timeout to permit
// periodic shutdown checks.
func (s *Storage) Run() {
	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.drain()
			return
		case j := <-s.queue:
			s.process(j.pkt)
		case <-ticker.C:
			s.checkMemory()
		}
	}
}

// Stop signals Run to exit after draining remaining queued work.
func (s *Storage) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Storage) drain() {
	for {
		select {
		case j := <-s.queue:
			s.process(j.pkt)
		default:
			return
		}
	}
}

func (s *Storage) checkMemory() {
	if s.MemoryUsage == nil || s.cfg.MemoryLimit == 0 {
		return
	}
	if s.MemoryUsage() > s.cfg.MemoryLimit {
		if s.onOverLimit != nil {
			s.onOverLimit(core.ErrMemoryLimit)
		}
		s.Stop()
	}
}

// process implements spec.md §4.13's per-dequeued-packet steps.
func (s *Storage) process(pkt *core.Packet) {
	defer pkt.Release()

	if sipData, ok := pkt.ProtocolData(core.ProtoSIP); ok {
		s.handleSIP(pkt, sipData.(core.PacketSIPData))
	} else if _, ok := pkt.ProtocolData(core.ProtoRTP); ok {
		s.handleRTP(pkt, false)
	} else if _, ok := pkt.ProtocolData(core.ProtoRTCP); ok {
		s.handleRTP(pkt, true)
	}

	if s.cfg.CaptureMode == "none" {
		for i := range pkt.Frames {
			pkt.Frames[i].Bytes = nil
		}
	}
}

// handleSIP implements spec.md §4.13.1.
func (s *Storage) handleSIP(pkt *core.Packet, sip core.PacketSIPData) {
	s.mu.Lock()
	call, found := s.callsByID[sip.CallID]
	if !found {
		if s.matchRe != nil {
			matched := s.matchRe.MatchString(sip.Payload)
			if matched == s.cfg.InvertMatch {
				s.mu.Unlock()
				return
			}
		}
		if s.cfg.OnlyInvite && !strings.EqualFold(sip.Method, "INVITE") {
			s.mu.Unlock()
			return
		}
		if s.cfg.OnlyComplete && !isSessionInitiating(sip.Method) {
			s.mu.Unlock()
			return
		}
		if s.cfg.CallLimit > 0 && len(s.calls) >= s.cfg.CallLimit {
			if s.cfg.Rotate {
				s.evictOldestLocked()
			} else {
				s.mu.Unlock()
				return
			}
		}
		call = NewCall(sip.CallID)
		s.nextIndex++
		call.Attributes["index"] = fmt.Sprintf("%d", s.nextIndex)
		s.calls = append(s.calls, call)
		s.callsByID[sip.CallID] = call
	}
	if sip.XCallID != "" {
		call.XCallID = sip.XCallID
	}
	s.mu.Unlock()

	msg := &Message{Packet: pkt, SIP: sip, Timestamp: pkt.FirstTimestamp().Timestamp}
	call.AddMessage(msg)

	if sdpData, ok := pkt.ProtocolData(core.ProtoSDP); ok {
		s.registerStreams(call, msg, sdpData.(core.PacketSDPData))
	}

	s.attrs.invalidate(call)
	s.filter.Reset(call)
}

// evictOldestLocked drops the oldest unlocked call (spec.md §4.13.1's
// rotate policy: "evict oldest unlocked call"; a call referenced by a
// CallGroup is exempt, spec.md §3). Caller holds s.mu. A no-op if every
// stored call is locked.
func (s *Storage) evictOldestLocked() {
	for i, call := range s.calls {
		if call.IsLocked() {
			continue
		}
		s.calls = append(s.calls[:i:i], s.calls[i+1:]...)
		delete(s.callsByID, call.CallID)
		return
	}
}

// isSessionInitiating reports whether method may start a tracked dialog,
// per spec.md §4.13.1's "method > MESSAGE" ordinal comparison, grounded
// verbatim on the original's SIP_METHOD enum order
// (packet_sip.h:42-55): REGISTER through MESSAGE sit at or before
// MESSAGE in that ordering and may open a new call; CANCEL, BYE, ACK,
// PRACK, INFO, REFER and UPDATE are ordered strictly after MESSAGE and
// only ever continue a dialog already started by something else, so a
// dialog can't legitimately "begin" with one of them.
func isSessionInitiating(method string) bool {
	switch strings.ToUpper(method) {
	case "CANCEL", "BYE", "ACK", "PRACK", "INFO", "REFER", "UPDATE":
		return false
	default:
		return true
	}
}

// registerStreams implements spec.md §4.13.4.
func (s *Storage) registerStreams(call *Call, msg *Message, sdp core.PacketSDPData) {
	srcIP, _ := msg.Packet.ProtocolData(core.ProtoIP)
	ip, _ := srcIP.(core.PacketIPData)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, media := range sdp.Media {
		if media.Address.IP == "" || media.RTPPort == 0 {
			continue
		}
		entry := expectedStream{call: call, sdpMedia: media, offerTime: msg.Timestamp}

		s.expected[streamKey(media.Address.IP, media.RTPPort)] = entry
		if media.RTCPPort != 0 {
			s.expected[streamKey(media.Address.IP, media.RTCPPort)] = entry
		}
		if ip.SrcIP != "" {
			s.expected[streamKey(ip.SrcIP, media.RTPPort)] = entry
		}
	}
}

func streamKey(ip string, port uint16) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// StreamLookup implements rtp.StreamLookup: the SDP-driven fast path
// that lets the RTP dissector skip the heuristic payload-shape check
// for a 5-tuple already registered via an SDP offer/answer (spec.md
// §4.8).
func (s *Storage) StreamLookup(pkt *core.Packet) (string, bool) {
	udpData, ok := pkt.ProtocolData(core.ProtoUDP)
	if !ok {
		return "", false
	}
	udp := udpData.(core.PacketUDPData)
	ipData, _ := pkt.ProtocolData(core.ProtoIP)
	ip, _ := ipData.(core.PacketIPData)

	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, found := s.expected[streamKey(ip.DstIP, udp.DstPort)]
	if !found {
		return "", false
	}
	for _, f := range entry.sdpMedia.Formats {
		if f.Alias != "" {
			return f.Alias, true
		}
	}
	return "", true
}

// handleRTP implements spec.md §4.13.2/§4.13.3 (rtcp=true selects the
// RTCP variant, symmetric over the same expected-stream map).
func (s *Storage) handleRTP(pkt *core.Packet, rtcp bool) {
	udpData, ok := pkt.ProtocolData(core.ProtoUDP)
	if !ok {
		return
	}
	udp := udpData.(core.PacketUDPData)
	ipData, _ := pkt.ProtocolData(core.ProtoIP)
	ip, _ := ipData.(core.PacketIPData)

	key := streamKey(ip.DstIP, udp.DstPort)

	s.mu.RLock()
	entry, found := s.expected[key]
	s.mu.RUnlock()
	if !found {
		return // unmatched RTP/RTCP is not stored
	}

	var ssrc uint32
	var seq uint16
	if rtcp {
		if d, ok := pkt.ProtocolData(core.ProtoRTCP); ok {
			ssrc = d.(core.PacketRTCPData).SSRC
		}
	} else if d, ok := pkt.ProtocolData(core.ProtoRTP); ok {
		rtp := d.(core.PacketRTPData)
		ssrc = rtp.SSRC
		seq = rtp.Seq
	}

	stream := s.findOrCreateStream(entry, ip, udp, ssrc)

	arrival := pkt.FirstTimestamp().Timestamp
	if arrival.IsZero() {
		arrival = time.Now()
	}

	stream.PacketCount++
	if stream.FirstPacketAt.IsZero() {
		stream.FirstPacketAt = arrival
	}
	stream.LastPacketAt = arrival
	if !rtcp {
		stream.Stats.update(seq, arrival)
		if stream.Stats.Expected > stream.PacketCount {
			stream.Stats.Lost = stream.Stats.Expected - stream.PacketCount
		} else {
			stream.Stats.Lost = 0
		}
	}

	if !rtcp && s.cfg.CaptureRTP {
		pkt.Retain()
		stream.Packets = append(stream.Packets, pkt)
	}

	entry.call.mu.Lock()
	entry.call.changed = true
	entry.call.mu.Unlock()
}

// findOrCreateStream matches an expected stream entry against
// (src, dst, ssrc) within the owning call (spec.md §4.13.2), creating a
// new Stream from the configuring SDP media the first time this triple
// is seen.
func (s *Storage) findOrCreateStream(entry expectedStream, ip core.PacketIPData, udp core.PacketUDPData, ssrc uint32) *Stream {
	entry.call.mu.Lock()
	defer entry.call.mu.Unlock()

	src := core.NewAddress(ip.SrcIP, udp.SrcPort)
	dst := core.NewAddress(ip.DstIP, udp.DstPort)

	for _, st := range entry.call.Streams {
		if st.SrcAddr.Equal(src) && st.DstAddr.Equal(dst) && st.SSRC == ssrc {
			return st
		}
	}

	st := &Stream{
		MediaType: entry.sdpMedia.Type,
		SrcAddr:   src,
		DstAddr:   dst,
		SSRC:      ssrc,
	}
	for _, f := range entry.sdpMedia.Formats {
		if f.Alias != "" {
			st.Codec = f.Alias
			break
		}
	}
	entry.call.Streams = append(entry.call.Streams, st)
	return st
}

// Calls returns a snapshot of all stored calls, oldest first.
func (s *Storage) Calls() []*Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallByID looks up a call by its Call-ID header value.
func (s *Storage) CallByID(callID string) (*Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.callsByID[callID]
	return c, ok
}

// Stats reports storage-wide counters (spec.md §4.13's capacity and
// queue-depth surface).
type Stats struct {
	CallCount     int
	QueueDepth    int
	QueueCapacity int
}

func (s *Storage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		CallCount:     len(s.calls),
		QueueDepth:    len(s.queue),
		QueueCapacity: cap(s.queue),
	}
}

// Filter returns the shared Filter instance so callers can configure it.
func (s *Storage) Filter() *Filter { return s.filter }

// Attribute resolves a named attribute for a call (spec.md §4.14).
func (s *Storage) Attribute(call *Call, name string) string {
	return s.attrs.get(call, name)
}
