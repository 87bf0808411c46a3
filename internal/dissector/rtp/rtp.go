// Package rtp implements the RTP, RTCP and telephony-event dissectors
// (spec.md §4.8): RFC 3550/5761 heuristic classification, grounded on
// the teacher's plugins/parser/rtp/rtp.go looksLikeRTPorRTCP and
// handleRTP/handleRTCP header parsing, extended with RFC 4733 DTMF and
// VoIP-metrics XR extraction spec.md supplements.
package rtp

import (
	"encoding/binary"

	"github.com/otus-project/sngrep/internal/core"
	"github.com/otus-project/sngrep/internal/dissector"
)

const (
	rtcpPayloadTypeMin = 200
	rtcpPayloadTypeMax = 209

	rtpMinLength  = 12
	rtcpMinLength = 8
)

// Dissector implements dissector.Dissector for RTP/RTCP over UDP. A
// single instance handles both; the wire payload-type byte decides
// which (spec.md §4.8's "distinguished by PT range" rule).
type Dissector struct {
	streams StreamLookup
}

// StreamLookup reports whether a 5-tuple was pre-registered by the SDP
// offer/answer exchange (spec.md §4.8's fast path); nil disables it and
// every datagram falls through to the header heuristic.
type StreamLookup func(pkt *core.Packet) (codec string, ok bool)

// New builds the RTP/RTCP dissector. lookup may be nil.
func New(lookup StreamLookup) *Dissector {
	return &Dissector{streams: lookup}
}

func (d *Dissector) ID() core.ProtoID              { return core.ProtoRTP }
func (d *Dissector) Name() string                  { return "rtp" }
func (d *Dissector) SubDissectors() []core.ProtoID { return nil }

func (d *Dissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	if len(data) < 2 {
		return data, nil
	}

	registered := false
	if d.streams != nil {
		_, registered = d.streams(pkt)
	}

	if !registered && !looksLikeRTPorRTCP(data) {
		return data, nil
	}

	rtcpPT := data[1]
	if rtcpPT >= rtcpPayloadTypeMin && rtcpPT <= rtcpPayloadTypeMax {
		return d.dissectRTCP(pkt, data)
	}
	return d.dissectRTP(pkt, data)
}

func (d *Dissector) dissectRTP(pkt *core.Packet, data []byte) ([]byte, error) {
	if len(data) < rtpMinLength {
		return data, nil
	}
	version := (data[0] >> 6) & 0x3
	if version != 2 {
		return data, nil
	}

	pt := data[1] & 0x7F
	seq := binary.BigEndian.Uint16(data[2:4])
	ts := binary.BigEndian.Uint32(data[4:8])
	ssrc := binary.BigEndian.Uint32(data[8:12])

	headerLen := rtpMinLength
	if hasExtension := (data[0]>>4)&0x1 == 1; hasExtension && len(data) >= headerLen+4 {
		extLen := int(binary.BigEndian.Uint16(data[headerLen+2 : headerLen+4]))
		headerLen += 4 + extLen*4
	}
	if csrcCount := int(data[0] & 0x0F); csrcCount > 0 {
		headerLen += csrcCount * 4
	}

	var payload []byte
	if headerLen <= len(data) {
		payload = data[headerLen:]
	}

	encoding := ""
	if d.streams != nil {
		encoding, _ = d.streams(pkt)
	}

	pkt.SetProtocolData(core.ProtoRTP, core.PacketRTPData{
		Encoding:  encoding,
		SSRC:      ssrc,
		Seq:       seq,
		Timestamp: ts,
		Payload:   payload,
	}, nil)

	// RFC 4733 telephony-event: PT is negotiated dynamically via SDP,
	// recognized here by payload shape (4-byte event report) rather than
	// a fixed PT, since the SDP-assigned PT is only known to the caller.
	if len(payload) == 4 && pt >= 96 {
		if ev, ok := parseTelephonyEvent(payload); ok {
			pkt.SetProtocolData(core.ProtoTelephonyEvent, ev, nil)
		}
	}

	return nil, nil
}

func (d *Dissector) dissectRTCP(pkt *core.Packet, data []byte) ([]byte, error) {
	if len(data) < rtcpMinLength {
		return data, nil
	}
	version := (data[0] >> 6) & 0x3
	if version != 2 {
		return data, nil
	}

	rtcp := core.PacketRTCPData{SSRC: binary.BigEndian.Uint32(data[4:8])}

	pt := data[1]
	if pt == 200 { // Sender Report
		if len(data) >= 28 {
			rtcp.SenderPacketCount = binary.BigEndian.Uint32(data[20:24])
		}
	}
	if pt == 201 || pt == 200 { // Receiver Report / SR's report blocks
		offset := 8
		if pt == 200 {
			offset = 28
		}
		if len(data) >= offset+8 {
			fraction := data[offset+4]
			rtcp.FractionLost = float64(fraction) / 256.0
		}
	}
	if pt == 207 { // Extended Report (RFC 3611) — VoIP Metrics block
		parseXR(data, &rtcp)
	}

	pkt.SetProtocolData(core.ProtoRTCP, rtcp, nil)
	return nil, nil
}

// parseXR scans RTCP XR report blocks for a VoIP Metrics block (block
// type 7, RFC 3611 §4.7) and fills MOS/fraction-discard fields.
func parseXR(data []byte, rtcp *core.PacketRTCPData) {
	const xrHeaderLen = 8
	if len(data) < xrHeaderLen {
		return
	}
	offset := xrHeaderLen
	for offset+4 <= len(data) {
		blockType := data[offset]
		blockLenWords := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		blockLen := (blockLenWords + 1) * 4
		if blockType == 7 && offset+blockLen <= len(data) && blockLen >= 32 {
			b := data[offset:]
			rtcp.FractionDiscard = float64(b[12]) / 256.0
			rtcp.ListeningMOS = float64(b[28]) / 10.0
			rtcp.ConversationalMOS = float64(b[29]) / 10.0
		}
		if blockLen <= 0 || offset+blockLen > len(data) {
			break
		}
		offset += blockLen
	}
}

// parseTelephonyEvent decodes an RFC 4733 4-byte DTMF event report.
// Reports ok=false for event codes outside the 0-15 DTMF digit range
// (spec.md §4.8: "non-DTMF events return input unchanged"), leaving
// the caller free to skip tagging the packet at all.
func parseTelephonyEvent(payload []byte) (core.PacketTelephonyEventData, bool) {
	event := payload[0]
	digit, ok := dtmfDigit(event)
	if !ok {
		return core.PacketTelephonyEventData{}, false
	}
	return core.PacketTelephonyEventData{
		Digit:      digit,
		Volume:     payload[1] & 0x3F,
		EndOfEvent: payload[1]&0x80 != 0,
		Duration:   binary.BigEndian.Uint16(payload[2:4]),
	}, true
}

// dtmfDigit maps an RFC 4733 event code to its DTMF digit character:
// 0-9 are the digits, 10-11 are '*'/'#', 12-15 are 'A'-'D'. Event codes
// 16 and above (e.g. flash, answer/CNG tones) are not DTMF digits.
func dtmfDigit(event byte) (byte, bool) {
	switch {
	case event <= 9:
		return '0' + event, true
	case event == 10:
		return '*', true
	case event == 11:
		return '#', true
	case event >= 12 && event <= 15:
		return 'A' + (event - 12), true
	default:
		return 0, false
	}
}

// looksLikeRTPorRTCP applies the teacher's heuristic fallback: version
// 2, minimum length, plausible payload-type range.
func looksLikeRTPorRTCP(data []byte) bool {
	if len(data) < rtcpMinLength {
		return false
	}
	version := (data[0] >> 6) & 0x3
	if version != 2 {
		return false
	}
	pt := data[1] & 0x7F
	rtcpPT := data[1]
	if rtcpPT >= rtcpPayloadTypeMin && rtcpPT <= rtcpPayloadTypeMax {
		return len(data) >= rtcpMinLength
	}
	return (pt <= 64 || pt >= 96) && len(data) >= rtpMinLength
}

var _ dissector.Dissector = (*Dissector)(nil)
