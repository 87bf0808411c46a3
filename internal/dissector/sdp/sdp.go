// Package sdp implements the SDP dissector (spec.md §4.7): line-
// oriented parsing of c=/m=/a= records out of a SIP message body,
// grounded on the teacher's plugins/parser/sip/sip.go parseSDPBody and
// mediaStream handling, generalized from "audio/video" to the full
// well-known payload-type table.
package sdp

import (
	"strconv"
	"strings"

	"github.com/otus-project/sngrep/internal/core"
	"github.com/otus-project/sngrep/internal/dissector"
)

// Dissector implements dissector.Dissector for SDP bodies.
type Dissector struct{}

// New builds the SDP dissector.
func New() *Dissector { return &Dissector{} }

func (d *Dissector) ID() core.ProtoID              { return core.ProtoSDP }
func (d *Dissector) Name() string                  { return "sdp" }
func (d *Dissector) SubDissectors() []core.ProtoID { return nil }

// Dissect parses an SDP body. A body with no "v=" session line is
// returned unchanged (not SDP).
func (d *Dissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	text := string(data)
	if !strings.Contains(text, "v=") {
		return data, nil
	}

	result := core.PacketSDPData{}
	var current *core.PacketSDPMedia

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r")
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		key, value := line[0], strings.TrimSpace(line[2:])

		switch key {
		case 'c':
			ip := parseConnectionIP(value)
			if ip != "" {
				if current != nil {
					current.Address = core.NewAddress(ip, current.Address.Port)
				} else {
					result.ConnectionIP = ip
				}
			}
		case 'm':
			media := parseMediaLine(value)
			if media != nil {
				if result.ConnectionIP != "" {
					media.Address = core.NewAddress(result.ConnectionIP, media.RTPPort)
				}
				result.Media = append(result.Media, *media)
				current = &result.Media[len(result.Media)-1]
			}
		case 'a':
			if current != nil {
				applyAttribute(current, value)
			}
		}
	}

	if len(result.Media) == 0 && result.ConnectionIP == "" {
		return data, nil
	}

	pkt.SetProtocolData(core.ProtoSDP, result, nil)
	return nil, nil
}

func parseConnectionIP(value string) string {
	// "IN IP4 203.0.113.5" or "IN IP6 ::1"
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return ""
	}
	return fields[2]
}

func parseMediaLine(value string) *core.PacketSDPMedia {
	// "audio 49170 RTP/AVP 0 8 101"
	fields := strings.Fields(value)
	if len(fields) < 4 {
		return nil
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil
	}

	media := &core.PacketSDPMedia{
		Type:    core.ParseMediaType(fields[0]),
		RTPPort: uint16(port),
	}
	if port > 0 {
		media.RTCPPort = uint16(port + 1) // RFC 3550 default, overridden by a=rtcp:
	}

	for _, ptField := range fields[3:] {
		pt, err := strconv.Atoi(ptField)
		if err != nil {
			continue
		}
		media.Formats = append(media.Formats, core.PacketSDPFormat{
			PayloadType: pt,
			Name:        wellKnownPayloadType(pt),
		})
	}
	return media
}

func applyAttribute(media *core.PacketSDPMedia, value string) {
	switch {
	case strings.HasPrefix(value, "rtpmap:"):
		applyRTPMap(media, strings.TrimPrefix(value, "rtpmap:"))
	case strings.HasPrefix(value, "rtcp:"):
		applyRTCPPort(media, strings.TrimPrefix(value, "rtcp:"))
	case value == "rtcp-mux":
		media.RTCPPort = media.RTPPort
	}
}

func applyRTPMap(media *core.PacketSDPMedia, value string) {
	// "0 PCMU/8000" — attach the alias to the matching declared format.
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return
	}
	alias := strings.SplitN(fields[1], "/", 2)[0]
	for i := range media.Formats {
		if media.Formats[i].PayloadType == pt {
			media.Formats[i].Alias = alias
			return
		}
	}
	media.Formats = append(media.Formats, core.PacketSDPFormat{PayloadType: pt, Alias: alias})
}

func applyRTCPPort(media *core.PacketSDPMedia, value string) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return
	}
	port, err := strconv.Atoi(fields[0])
	if err == nil {
		media.RTCPPort = uint16(port)
	}
}

// wellKnownPayloadType maps static RTP payload types per RFC 3551's
// assigned table (spec.md §4.7's format table).
func wellKnownPayloadType(pt int) string {
	switch pt {
	case 0:
		return "PCMU"
	case 3:
		return "GSM"
	case 4:
		return "G723"
	case 5, 6:
		return "DVI4"
	case 7:
		return "LPC"
	case 8:
		return "PCMA"
	case 9:
		return "G722"
	case 10, 11:
		return "L16"
	case 12:
		return "QCELP"
	case 13:
		return "CN"
	case 14:
		return "MPA"
	case 15:
		return "G728"
	case 16, 17:
		return "DVI4"
	case 18:
		return "G729"
	case 25:
		return "CelB"
	case 26:
		return "JPEG"
	case 28:
		return "nv"
	case 31:
		return "H261"
	case 32:
		return "MPV"
	case 33:
		return "MP2T"
	case 34:
		return "H263"
	default:
		return ""
	}
}

var _ dissector.Dissector = (*Dissector)(nil)
