// Package link implements the link-layer dissector (spec.md §4.2):
// it strips the datalink header and hands the remainder to the IP
// sub-dissector. Header sizes are keyed by gopacket/layers.LinkType
// constants rather than hand-maintained magic numbers, so the table
// stays in sync with the datalinks libpcap itself reports.
package link

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"

	"github.com/otus-project/sngrep/internal/core"
)

// Dissector strips a link-layer header for a fixed LinkType. The
// capture input constructs one per datalink reported by libpcap/HEP.
type Dissector struct {
	linkType core.ProtoID
	datalink layers.LinkType
	subs     []core.ProtoID
}

// New builds the link dissector for the given pcap datalink.
func New(datalink layers.LinkType) *Dissector {
	return &Dissector{
		linkType: core.ProtoLink,
		datalink: datalink,
		subs:     []core.ProtoID{core.ProtoIP},
	}
}

func (d *Dissector) ID() core.ProtoID            { return core.ProtoLink }
func (d *Dissector) Name() string                { return "link" }
func (d *Dissector) SubDissectors() []core.ProtoID { return d.subs }

// Dissect strips the link header per spec.md §4.2's size table. An
// unknown link type produces no output (data returned unchanged).
func (d *Dissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	n, ok := headerLen(d.datalink, data)
	if !ok || n > len(data) {
		return data, nil
	}
	return data[n:], nil
}

// headerLen implements spec.md §4.2's table. Ethernet gains +4 when an
// 802.1Q VLAN tag is detected (EtherType 0x8100 at offset 12); Linux
// SLL gains +4 on VLAN the same way NFLOG walks TLVs until PAYLOAD.
func headerLen(dl layers.LinkType, data []byte) (int, bool) {
	switch dl {
	case layers.LinkTypeEthernet:
		if len(data) < 14 {
			return 0, false
		}
		n := 14
		if len(data) >= 16 && binary.BigEndian.Uint16(data[12:14]) == 0x8100 {
			n += 4
		}
		return n, true
	case layers.LinkTypeIEEE802:
		return 22, true
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return 4, true
	case layers.LinkTypeSLIP, layers.LinkTypeSLIPBSDOS:
		return 16, true
	case layers.LinkTypePPP, layers.LinkTypePPPBSDOS, layers.LinkTypePPPSerial, layers.LinkTypePPPEthernet:
		return 4, true
	case layers.LinkTypeRaw:
		return 0, true
	case layers.LinkTypeFDDI:
		return 21, true
	case layers.LinkTypeEncap:
		return 12, true
	case layers.LinkTypeLinuxSLL:
		n := 16
		if len(data) >= 16 && binary.BigEndian.Uint16(data[14:16]) == 0x8100 {
			n += 4
		}
		return n, true
	case linkTypeNFLOG:
		return nflogHeaderLen(data)
	case linkTypeIPNet:
		return 24, true
	default:
		return 0, false
	}
}

// linkTypeNFLOG / linkTypeIPNet have no stable gopacket/layers
// constant; their DLT numbers are fixed by the pcap-linktype(7) spec.
const (
	linkTypeNFLOG layers.LinkType = 239
	linkTypeIPNet layers.LinkType = 226
)

// nflogTLVPayload is the NFLOG TLV type carrying the actual packet
// payload (see pcap-linktype(7), DLT_NFLOG).
const nflogTLVPayload = 9

// nflogHeaderLen walks NFLOG TLVs (4-byte aligned) until the PAYLOAD
// TLV and returns the byte offset where the payload begins.
func nflogHeaderLen(data []byte) (int, bool) {
	const fixedHeader = 4
	if len(data) < fixedHeader {
		return 0, false
	}
	off := fixedHeader
	for off+4 <= len(data) {
		tlvLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		tlvType := binary.LittleEndian.Uint16(data[off+2 : off+4])
		if tlvLen < 4 {
			return 0, false
		}
		if tlvType == nflogTLVPayload {
			return off + 4, true
		}
		// TLVs are 4-byte aligned.
		off += (tlvLen + 3) &^ 3
	}
	return 0, false
}
