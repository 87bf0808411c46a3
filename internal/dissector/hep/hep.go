// Package hep implements the HEPv3 decode dissector (spec.md §4.9):
// the inverse of a HOMER/Sipcapture encoder, reconstructing synthetic
// IP/UDP protocol data from chunks so a HEP-received frame can be
// dissected by the same SIP/RTP sub-chain as a raw capture. Chunk
// layout is grounded on the teacher's plugins/reporter/hep/encoder.go,
// read in reverse.
package hep

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/otus-project/sngrep/internal/core"
	"github.com/otus-project/sngrep/internal/dissector"
)

const (
	hepMagic       = "HEP3"
	chunkHeaderLen = 6
)

const (
	chunkIPFamily  = uint16(1)
	chunkIPProto   = uint16(2)
	chunkSrcIPv4   = uint16(3)
	chunkDstIPv4   = uint16(4)
	chunkSrcIPv6   = uint16(5)
	chunkDstIPv6   = uint16(6)
	chunkSrcPort   = uint16(7)
	chunkDstPort   = uint16(8)
	chunkTimeSec   = uint16(9)
	chunkTimeUsec  = uint16(10)
	chunkProtoType = uint16(11)
	chunkCaptureID = uint16(12)
	chunkAuthKey   = uint16(14)
	chunkPayload   = uint16(15)
	chunkCorrID    = uint16(17)
	chunkNodeName  = uint16(19)
)

const (
	ipFamilyV4 = uint8(2)
	ipFamilyV6 = uint8(10)
)

// Dissector implements dissector.Dissector for HEPv3-encapsulated
// frames arriving on the HEP listener (spec.md §4.9). It reconstructs
// IP/UDP protocol data on the Packet and hands the enclosed payload to
// its sub-dissectors, tried in order; the protocol-type chunk (11) is
// read but does not select among them.
type Dissector struct {
	authKey string // when non-empty, frames with a mismatching/missing chunk 14 are rejected
	subs    []core.ProtoID
}

// New builds the HEP dissector. authKey enforces spec.md §6's
// hep.auth_key configuration; an empty string disables the check.
func New(authKey string, subs ...core.ProtoID) *Dissector {
	return &Dissector{authKey: authKey, subs: subs}
}

func (d *Dissector) ID() core.ProtoID              { return core.ProtoHEP }
func (d *Dissector) Name() string                  { return "hep" }
func (d *Dissector) SubDissectors() []core.ProtoID { return d.subs }

func (d *Dissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	if len(data) < 6 || string(data[0:4]) != hepMagic {
		return data, nil
	}
	frameLen := int(binary.BigEndian.Uint16(data[4:6]))
	if frameLen > len(data) {
		frameLen = len(data)
	}

	var (
		srcIP, dstIP         net.IP
		srcPort, dstPort     uint16
		protocol             uint8
		protoType            uint8
		tsSec, tsUsec        uint32
		payload              []byte
		authKeySeen          string
		authKeyChunkPresent  bool
	)

	offset := 6
	for offset+chunkHeaderLen <= frameLen {
		chunkType := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		chunkLen := int(binary.BigEndian.Uint16(data[offset+4 : offset+6]))
		if chunkLen < chunkHeaderLen || offset+chunkLen > frameLen {
			break
		}
		value := data[offset+chunkHeaderLen : offset+chunkLen]

		switch chunkType {
		case chunkIPProto:
			if len(value) >= 1 {
				protocol = value[0]
			}
		case chunkSrcIPv4, chunkSrcIPv6:
			srcIP = net.IP(append([]byte(nil), value...))
		case chunkDstIPv4, chunkDstIPv6:
			dstIP = net.IP(append([]byte(nil), value...))
		case chunkSrcPort:
			if len(value) >= 2 {
				srcPort = binary.BigEndian.Uint16(value)
			}
		case chunkDstPort:
			if len(value) >= 2 {
				dstPort = binary.BigEndian.Uint16(value)
			}
		case chunkTimeSec:
			if len(value) >= 4 {
				tsSec = binary.BigEndian.Uint32(value)
			}
		case chunkTimeUsec:
			if len(value) >= 4 {
				tsUsec = binary.BigEndian.Uint32(value)
			}
		case chunkProtoType:
			if len(value) >= 1 {
				protoType = value[0]
			}
		case chunkAuthKey:
			authKeySeen = string(value)
			authKeyChunkPresent = true
		case chunkPayload:
			payload = value
		}

		offset += chunkLen
	}

	if d.authKey != "" && (!authKeyChunkPresent || authKeySeen != d.authKey) {
		return data, nil
	}

	if srcIP != nil && dstIP != nil {
		pkt.SetProtocolData(core.ProtoIP, core.PacketIPData{
			SrcIP:    srcIP.String(),
			DstIP:    dstIP.String(),
			Protocol: protocol,
			Version:  ipVersion(srcIP),
		}, nil)
	}
	pkt.SetProtocolData(core.ProtoUDP, core.PacketUDPData{SrcPort: srcPort, DstPort: dstPort}, nil)

	if tsSec != 0 {
		frames := pkt.Frames
		for i := range frames {
			frames[i].Timestamp = time.Unix(int64(tsSec), int64(tsUsec)*1000)
		}
	}

	_ = protoType // chunk 11 informs which sub-dissector to prefer; try-chain handles both
	return payload, nil
}

func ipVersion(ip net.IP) uint8 {
	if ip.To4() != nil {
		return 4
	}
	return 6
}

var _ dissector.Dissector = (*Dissector)(nil)
