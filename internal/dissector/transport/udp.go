// Package transport implements the UDP and TCP dissectors (spec.md
// §4.4/§4.5). UDP is stateless: parse the 8-byte header and hand the
// payload to whichever sibling (SIP, RTP, RTCP, HEP) claims it. TCP
// additionally reassembles byte streams via gopacket/tcpassembly.
package transport

import (
	"encoding/binary"

	"github.com/otus-project/sngrep/internal/core"
	"github.com/otus-project/sngrep/internal/dissector"
)

// UDPDissector implements dissector.Dissector for UDP (spec.md §4.4).
type UDPDissector struct {
	subs []core.ProtoID
}

// NewUDP builds the UDP dissector. subs lists, in try order, the
// protocols attempted against the datagram payload (typically SIP,
// then RTP/RTCP, then HEP).
func NewUDP(subs ...core.ProtoID) *UDPDissector {
	return &UDPDissector{subs: subs}
}

func (d *UDPDissector) ID() core.ProtoID              { return core.ProtoUDP }
func (d *UDPDissector) Name() string                  { return "udp" }
func (d *UDPDissector) SubDissectors() []core.ProtoID { return d.subs }

func (d *UDPDissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	if len(data) < 8 {
		return data, nil
	}
	srcPort := binary.BigEndian.Uint16(data[0:2])
	dstPort := binary.BigEndian.Uint16(data[2:4])
	length := int(binary.BigEndian.Uint16(data[4:6]))

	end := length
	if end < 8 || end > len(data) {
		end = len(data)
	}

	pkt.SetProtocolData(core.ProtoUDP, core.PacketUDPData{SrcPort: srcPort, DstPort: dstPort}, nil)

	return data[8:end], nil
}

var _ dissector.Dissector = (*UDPDissector)(nil)
