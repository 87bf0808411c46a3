package ipreasm

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/otus-project/sngrep/internal/core"
)

const (
	protoTCP = 6
	protoUDP = 17
)

// SubDissectFunc dispatches the reassembled IP payload to the UDP or
// TCP dissector by protocol number — spec.md §4.3: "pass remainder to
// sub-dissector (UDP or TCP by protocol number)", a protocol-family
// negotiation rather than a generic try-every-sibling chain.
type SubDissectFunc func(protocol uint8, pkt *core.Packet, data []byte) ([]byte, error)

// Dissector implements the IPv4/IPv6 dissector with fragment
// reassembly (spec.md §4.3).
type Dissector struct {
	reassembler *Reassembler
	dispatch    SubDissectFunc
}

// New builds an IP dissector. dispatch is called with the reassembled
// (or already-whole) IP payload once fragmentation, if any, is
// resolved.
func New(cfg Config, dispatch SubDissectFunc) *Dissector {
	return &Dissector{
		reassembler: NewReassembler(cfg),
		dispatch:    dispatch,
	}
}

func (d *Dissector) ID() core.ProtoID              { return core.ProtoIP }
func (d *Dissector) Name() string                  { return "ip" }
func (d *Dissector) SubDissectors() []core.ProtoID { return nil } // dispatched internally, see Dissect

// Sweep evicts stale fragment assemblies; call periodically (spec.md
// §4.3's eviction policy has no fixed period, the TCP GC ticker cadence
// of ~10s is a reasonable shared default, see engine's sweepLoop).
func (d *Dissector) Sweep() int { return d.reassembler.Sweep() }

func (d *Dissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	if len(data) < 1 {
		return data, nil
	}
	version := data[0] >> 4
	switch version {
	case 4:
		return d.dissectV4(pkt, data)
	case 6:
		return d.dissectV6(pkt, data)
	default:
		return data, nil
	}
}

func (d *Dissector) dissectV4(pkt *core.Packet, data []byte) ([]byte, error) {
	if len(data) < 20 {
		return data, nil
	}
	ihl := int(data[0]&0x0F) * 4
	if ihl < 20 || len(data) < ihl {
		return data, nil
	}
	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen < ihl || totalLen > len(data) {
		totalLen = len(data) // trust IP length but clamp to what we actually have
	}
	id := binary.BigEndian.Uint16(data[4:6])
	flagsFrag := binary.BigEndian.Uint16(data[6:8])
	moreFragments := flagsFrag&0x2000 != 0
	fragOffsetUnits := flagsFrag & 0x1FFF
	protocol := data[9]
	srcIP := net.IP(data[12:16]).String()
	dstIP := net.IP(data[16:20]).String()

	payload := data[ihl:totalLen]

	ipData := core.PacketIPData{SrcIP: srcIP, DstIP: dstIP, Protocol: protocol, Version: 4}
	pkt.SetProtocolData(core.ProtoIP, ipData, nil)

	if fragOffsetUnits == 0 && !moreFragments {
		return d.forward(protocol, pkt, payload)
	}

	byteOffset := uint32(fragOffsetUnits) * 8
	key := datagramKey{src: srcIP, dst: dstIP, version: 4, id: uint32(id)}
	frame := pkt.FirstTimestamp()
	result, ok := d.reassembler.process(key, byteOffset, payload, moreFragments, frame)
	if !ok {
		return nil, fmt.Errorf("ipreasm: fragment rejected for datagram %v", key)
	}
	if !result.complete {
		return nil, nil // held pending more fragments; fully "consumed" for now
	}

	// result.frames is in arrival order (reassembly.go's process appends
	// the current fragment's frame last on every call, including this
	// completing one), not "this packet's own frame first" — pkt's own
	// frame is always the final entry, wherever the completing fragment
	// happened to land in arrival order.
	pkt.AppendFrames(result.frames[:len(result.frames)-1])
	return d.forward(protocol, pkt, result.payload)
}

func (d *Dissector) dissectV6(pkt *core.Packet, data []byte) ([]byte, error) {
	const hdrLen = 40
	if len(data) < hdrLen {
		return data, nil
	}
	payloadLen := int(binary.BigEndian.Uint16(data[4:6]))
	nextHeader := data[6]
	srcIP := net.IP(data[8:24]).String()
	dstIP := net.IP(data[24:40]).String()

	end := hdrLen + payloadLen
	if end > len(data) || payloadLen == 0 {
		end = len(data)
	}
	payload := data[hdrLen:end]

	ipData := core.PacketIPData{SrcIP: srcIP, DstIP: dstIP, Protocol: nextHeader, Version: 6}
	pkt.SetProtocolData(core.ProtoIP, ipData, nil)

	const ipv6FragHeader = 44
	if nextHeader != ipv6FragHeader {
		return d.forward(nextHeader, pkt, payload)
	}
	if len(payload) < 8 {
		return data, nil
	}
	protocol := payload[0]
	offsetFlags := binary.BigEndian.Uint16(payload[2:4])
	fragOffsetUnits := offsetFlags >> 3
	moreFragments := offsetFlags&0x1 != 0
	id := binary.BigEndian.Uint32(payload[4:8])
	fragPayload := payload[8:]

	byteOffset := uint32(fragOffsetUnits) * 8
	key := datagramKey{src: srcIP, dst: dstIP, version: 6, id: id}
	frame := pkt.FirstTimestamp()
	result, ok := d.reassembler.process(key, byteOffset, fragPayload, moreFragments, frame)
	if !ok {
		return nil, fmt.Errorf("ipreasm: fragment rejected for datagram %v", key)
	}
	if !result.complete {
		return nil, nil
	}
	pkt.AppendFrames(result.frames[:len(result.frames)-1])
	return d.forward(protocol, pkt, result.payload)
}

func (d *Dissector) forward(protocol uint8, pkt *core.Packet, payload []byte) ([]byte, error) {
	if d.dispatch == nil {
		return nil, nil
	}
	return d.dispatch(protocol, pkt, payload)
}
