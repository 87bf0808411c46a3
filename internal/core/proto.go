package core

// ProtoID identifies a protocol dissector and doubles as the key into a
// Packet's sparse protocol-data map. Stable across releases — values
// are never renumbered once assigned.
type ProtoID int

const (
	ProtoLink ProtoID = iota
	ProtoIP
	ProtoUDP
	ProtoTCP
	ProtoSIP
	ProtoSDP
	ProtoRTP
	ProtoRTCP
	ProtoHEP
	ProtoTLS
	ProtoMRCP
	ProtoTelephonyEvent
)

// Name returns the human-readable dissector name for logging/metrics.
func (p ProtoID) Name() string {
	switch p {
	case ProtoLink:
		return "link"
	case ProtoIP:
		return "ip"
	case ProtoUDP:
		return "udp"
	case ProtoTCP:
		return "tcp"
	case ProtoSIP:
		return "sip"
	case ProtoSDP:
		return "sdp"
	case ProtoRTP:
		return "rtp"
	case ProtoRTCP:
		return "rtcp"
	case ProtoHEP:
		return "hep"
	case ProtoTLS:
		return "tls"
	case ProtoMRCP:
		return "mrcp"
	case ProtoTelephonyEvent:
		return "televt"
	default:
		return "unknown"
	}
}
