package transport

import (
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"

	"github.com/otus-project/sngrep/internal/core"
	"github.com/otus-project/sngrep/internal/dissector"
)

// MessageSplitter finds application-layer message boundaries within a
// reassembled TCP byte stream (spec.md §4.5 step 3: "detect a complete
// SIP message by Content-Length"). Detect reports whether data begins
// with a recognizable message; Extract returns that message and how
// many leading bytes it consumed, or consumed == 0 if more data is
// needed before a decision can be made.
type MessageSplitter interface {
	Detect(data []byte) bool
	Extract(data []byte) (msg []byte, consumed int, err error)
}

// AppDispatchFunc hands one complete extracted message to the
// dissector chain (typically registry.Dissect(core.ProtoSIP, pkt, msg)).
type AppDispatchFunc func(pkt *core.Packet, msg []byte) error

// TLSProbeFunc is tried once per stream before the MessageSplitter, so
// a TLS handshake is tagged and the stream is left alone rather than
// fed to the SIP splitter (spec.md §4.5's "no cleartext SIP on this
// connection" case). Returns the number of leading bytes it claims as
// TLS record framing, 0 if this is not a TLS record.
type TLSProbeFunc func(pkt *core.Packet, data []byte) (consumed int, isTLS bool)

// maxStreamBuffer bounds how much unconsumed data a single stream may
// accumulate before being dropped — spec.md §4.5's reassembly limit,
// grounded on core.ErrReassemblyLimit.
const maxStreamBuffer = 1 << 20 // 1 MiB

// TCPDissector implements dissector.Dissector for TCP (spec.md §4.5),
// reassembling byte streams with gopacket/tcpassembly the way the
// teacher's assembly_tcp.go does, then splitting complete application
// messages out of each stream's buffer.
type TCPDissector struct {
	assembler *tcpassembly.Assembler
	factory   *tcpStreamFactory
}

// NewTCP builds the TCP dissector. splitter/dispatch/tlsProbe may be
// nil to disable that stage (e.g. no TLS tagging configured).
func NewTCP(splitter MessageSplitter, dispatch AppDispatchFunc, tlsProbe TLSProbeFunc) *TCPDissector {
	factory := &tcpStreamFactory{
		splitter: splitter,
		dispatch: dispatch,
		tlsProbe: tlsProbe,
	}
	pool := tcpassembly.NewStreamPool(factory)
	return &TCPDissector{
		assembler: tcpassembly.NewAssembler(pool),
		factory:   factory,
	}
}

func (d *TCPDissector) ID() core.ProtoID              { return core.ProtoTCP }
func (d *TCPDissector) Name() string                  { return "tcp" }
func (d *TCPDissector) SubDissectors() []core.ProtoID { return nil } // dispatched via splitter, not chain

// Sweep flushes streams idle longer than maxAge — spec.md §4.5's
// periodic garbage collection of stale half-open connections.
func (d *TCPDissector) Sweep(maxAge time.Duration) int {
	return d.assembler.FlushOlderThan(time.Now().Add(-maxAge))
}

func (d *TCPDissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	tcpLayer := &layers.TCP{}
	decoded := make([]gopacket.LayerType, 0, 1)
	p := gopacket.NewDecodingLayerParser(layers.LayerTypeTCP, tcpLayer)
	p.IgnoreUnsupported = true
	if err := p.DecodeLayers(data, &decoded); err != nil || len(decoded) == 0 {
		return data, nil
	}

	ipData, _ := pkt.ProtocolData(core.ProtoIP)
	ip, _ := ipData.(core.PacketIPData)
	srcIP := net.ParseIP(ip.SrcIP)
	dstIP := net.ParseIP(ip.DstIP)
	if srcIP == nil || dstIP == nil {
		return data, nil
	}

	pkt.SetProtocolData(core.ProtoTCP, core.PacketTCPData{
		SrcPort: uint16(tcpLayer.SrcPort),
		DstPort: uint16(tcpLayer.DstPort),
		Offset:  tcpLayer.DataOffset,
		Seq:     tcpLayer.Seq,
		Syn:     tcpLayer.SYN,
		Ack:     tcpLayer.ACK,
		Psh:     tcpLayer.PSH,
	}, nil)

	netFlow, err := gopacket.FlowFromEndpoints(layers.NewIPEndpoint(srcIP), layers.NewIPEndpoint(dstIP))
	if err != nil {
		return data, nil
	}

	d.factory.setContext(pkt)
	ts := pkt.FirstTimestamp().Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	d.assembler.AssembleWithTimestamp(netFlow, tcpLayer, ts)

	return nil, nil // fully handed off to the stream; no synchronous remainder
}

var _ dissector.Dissector = (*TCPDissector)(nil)

// tcpStreamFactory implements tcpassembly.StreamFactory.
type tcpStreamFactory struct {
	splitter MessageSplitter
	dispatch AppDispatchFunc
	tlsProbe TLSProbeFunc

	mu  sync.RWMutex
	pkt *core.Packet
}

func (f *tcpStreamFactory) setContext(pkt *core.Packet) {
	f.mu.Lock()
	f.pkt = pkt
	f.mu.Unlock()
}

func (f *tcpStreamFactory) currentPkt() *core.Packet {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pkt
}

func (f *tcpStreamFactory) New(net, transport gopacket.Flow) tcpassembly.Stream {
	return &tcpStream{
		factory: f,
		buffer:  make([]byte, 0, 4096),
	}
}

type tcpStream struct {
	factory *tcpStreamFactory

	// pkt is the most recently seen segment's packet, used as the
	// dispatched message's context (headers, first timestamp). frames
	// accumulates every segment frame contributed to buffer since the
	// last dispatch, so a message spanning several TCP segments carries
	// all of their frames (spec.md §4.5 step 3), not just the last one.
	pkt       *core.Packet
	frames    []core.Frame
	buffer    []byte
	tlsTagged bool
	overLimit bool
}

func (s *tcpStream) Reassembled(reassembled []tcpassembly.Reassembly) {
	// Refresh the segment context on every call: a stream outlives a
	// single segment, so pkt must track whichever segment just arrived,
	// not the one that existed when the stream was created.
	if pkt := s.factory.currentPkt(); pkt != nil {
		s.pkt = pkt
		s.frames = append(s.frames, pkt.Frames...)
	}

	for _, r := range reassembled {
		if len(r.Bytes) == 0 {
			continue
		}
		s.buffer = append(s.buffer, r.Bytes...)
	}
	if len(s.buffer) > maxStreamBuffer {
		s.overLimit = true
		s.buffer = nil
		return
	}
	s.drain()
}

func (s *tcpStream) ReassemblyComplete() {
	s.drain()
}

func (s *tcpStream) drain() {
	if s.overLimit || s.pkt == nil {
		return
	}

	if !s.tlsTagged && s.factory.tlsProbe != nil {
		if consumed, isTLS := s.factory.tlsProbe(s.pkt, s.buffer); isTLS {
			s.tlsTagged = true
			if consumed > 0 && consumed <= len(s.buffer) {
				s.buffer = s.buffer[consumed:]
			}
			return // no cleartext SIP on a TLS-tagged connection
		}
	}

	if s.factory.splitter == nil || s.factory.dispatch == nil {
		return
	}

	for len(s.buffer) > 0 {
		if !s.factory.splitter.Detect(s.buffer) {
			break
		}
		msg, consumed, err := s.factory.splitter.Extract(s.buffer)
		if err != nil {
			break
		}
		if consumed == 0 {
			break // incomplete message, wait for more bytes
		}
		if len(msg) > 0 {
			if len(s.frames) > 1 {
				s.pkt.Frames = append([]core.Frame(nil), s.frames...)
			}
			_ = s.factory.dispatch(s.pkt, msg)
			s.frames = s.frames[:0]
		}
		s.buffer = s.buffer[consumed:]
	}
}
