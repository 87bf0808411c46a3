package core

// PacketIPData is the parsed IP header data attached under ProtoIP.
type PacketIPData struct {
	SrcIP    string
	DstIP    string
	Protocol uint8 // IANA protocol number (6=TCP, 17=UDP, ...)
	Version  uint8 // 4 or 6
}

// PacketUDPData is the parsed UDP header attached under ProtoUDP.
type PacketUDPData struct {
	SrcPort uint16
	DstPort uint16
}

// PacketTCPData is the parsed TCP header attached under ProtoTCP.
type PacketTCPData struct {
	SrcPort uint16
	DstPort uint16
	Offset  uint8
	Seq     uint32
	Syn     bool
	Ack     bool
	Psh     bool
}

// PacketSIPData is the parsed SIP message attached under ProtoSIP.
type PacketSIPData struct {
	Code               int    // method-id for requests, status code for responses
	Method             string // request method, e.g. "INVITE"
	Reason             string // response reason phrase
	IsRequest          bool
	Payload            string
	ContentLength      int
	CallID             string
	XCallID            string
	CSeq               int
	Authorization      string
	InitialTransaction bool // true iff To header carries no ;tag=
	From               string
	To                 string
	Retransmission     bool
}

// MediaType enumerates SDP media kinds (§3).
type MediaType int

const (
	MediaAudio MediaType = iota
	MediaVideo
	MediaText
	MediaApplication
	MediaMessage
	MediaImage
	MediaUnknown
)

func (m MediaType) String() string {
	switch m {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	case MediaText:
		return "text"
	case MediaApplication:
		return "application"
	case MediaMessage:
		return "message"
	case MediaImage:
		return "image"
	default:
		return "unknown"
	}
}

// ParseMediaType maps an SDP m= media token to a MediaType.
func ParseMediaType(s string) MediaType {
	switch s {
	case "audio":
		return MediaAudio
	case "video":
		return MediaVideo
	case "text":
		return MediaText
	case "application":
		return MediaApplication
	case "message":
		return MediaMessage
	case "image":
		return MediaImage
	default:
		return MediaUnknown
	}
}

// PacketSDPFormat is one numbered payload-type entry from an m= line,
// optionally named by a later a=rtpmap line.
type PacketSDPFormat struct {
	PayloadType int
	Name        string // e.g. "PCMU"
	Alias       string // e.g. "PCMU/8000"
}

// PacketSDPMedia is one m= section of an SDP body.
type PacketSDPMedia struct {
	Type        MediaType
	RTPPort     uint16
	RTCPPort    uint16 // defaults to RTPPort+1
	Address     Address // effective (connection ip, RTP port)
	Formats     []PacketSDPFormat
}

// PacketSDPData is the parsed SDP body attached under ProtoSDP.
type PacketSDPData struct {
	ConnectionIP string // session-level c= address, if any
	Media        []PacketSDPMedia
}

// PacketRTPData is the parsed RTP header attached under ProtoRTP.
type PacketRTPData struct {
	Encoding  string // resolved name, e.g. "PCMU/8000"
	SSRC      uint32
	Seq       uint16
	Timestamp uint32
	Payload   []byte
}

// PacketRTCPData is the parsed RTCP statistics attached under ProtoRTCP.
type PacketRTCPData struct {
	SSRC               uint32
	SenderPacketCount  uint32
	FractionLost       float64
	FractionDiscard    float64
	ListeningMOS       float64
	ConversationalMOS  float64
}

// PacketTelephonyEventData is a decoded RFC 4733 DTMF event report
// attached under ProtoTelephonyEvent. Only produced for event codes
// 0-15 (the DTMF digit range); other event codes are not telephony
// digits and the dissector leaves the packet untagged for them.
type PacketTelephonyEventData struct {
	Digit      byte // '0'-'9', '*', '#', 'A'-'D'
	Volume     byte
	EndOfEvent bool
	Duration   uint16
}

// MRCPMessageType distinguishes an MRCPv2 request/response/event line.
type MRCPMessageType int

const (
	MRCPRequest MRCPMessageType = iota
	MRCPResponse
	MRCPEvent
)

// PacketMRCPData is the parsed MRCPv2 message attached under ProtoMRCP.
type PacketMRCPData struct {
	Type       MRCPMessageType
	Method     string // method or event name; status code + state for a response
	Code       int    // numeric method/status code, looked up from the method table
	RequestID  uint64
	Channel    string
	Payload    string
}
