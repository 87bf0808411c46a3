// Package mrcp implements the MRCPv2 dissector (spec.md §4.16),
// grounded on the original sngrep's src/packet/packet_mrcp.c: the
// speech-control protocol carried over the TCP connection a SIP
// session's a=resource line negotiates, distinguished by a fixed
// "MRCP/2.0" version token and matched against Channel-Identifier /
// Content-Length headers for message-boundary framing.
package mrcp

import (
	"strconv"
	"strings"

	"github.com/otus-project/sngrep/internal/core"
	"github.com/otus-project/sngrep/internal/dissector"
)

const (
	mrcpVersion = "MRCP/2.0"
	mrcpCRLF    = "\r\n"
)

// mrcpMethods mirrors the original's mrcp_codes table (method name ->
// numeric code), used to resolve a textual method into PacketMRCPData.Code.
var mrcpMethods = map[string]int{
	"SET-PARAMS":              1,
	"GET-PARAMS":               2,
	"SPEAK":                    3,
	"STOP":                     4,
	"PAUSE":                    5,
	"RESUME":                   6,
	"BARGE-IN-OCCURRED":        7,
	"CONTROL":                  8,
	"DEFINE-LEXICON":           9,
	"DEFINE-GRAMMAR":           10,
	"RECOGNIZE":                11,
	"INTERPRET":                12,
	"GET-RESULT":               13,
	"START-INPUT-TIMERS":       14,
	"START-PHRASE-ENROLLMENT":  15,
	"ENROLLMENT-ROLLBACK":      16,
	"END_PHRASE-ENROLLMENT":    17,
	"MODIFY-PHRASE":            18,
	"DELETE-PHRASE":            19,
	"RECORD":                   20,
	"START-SESSION":            21,
	"END-SESSION":              22,
	"QUERY-VOICEPRINT":         23,
	"DELETE-VOICEPRINT":        24,
	"VERIFY":                   25,
	"VERIFY-FROM-BUFFER":       26,
	"VERIFY-ROLLBACK":          27,
	"CLEAR-BUFFER":             28,
	"INTERMEDIATE-RESULT":      29,
}

// methodFromString resolves a method name to its numeric code, falling
// back to parsing it as a literal number (the original's behavior for
// an unrecognized or vendor-specific method token).
func methodFromString(method string) int {
	if code, ok := mrcpMethods[method]; ok {
		return code
	}
	n, _ := strconv.Atoi(method)
	return n
}

// Dissector implements dissector.Dissector for MRCPv2.
type Dissector struct{}

// New builds the MRCP dissector.
func New() *Dissector { return &Dissector{} }

func (d *Dissector) ID() core.ProtoID              { return core.ProtoMRCP }
func (d *Dissector) Name() string                  { return "mrcp" }
func (d *Dissector) SubDissectors() []core.ProtoID { return nil }

func (d *Dissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	if len(data) < len(mrcpVersion)+1 {
		return data, nil
	}
	if !strings.EqualFold(string(data[:len(mrcpVersion)]), mrcpVersion) {
		return data, nil
	}

	text := string(data)
	lines := strings.Split(text, mrcpCRLF)
	if len(lines) == 0 {
		return data, nil
	}

	firstLine := strings.Fields(lines[0])
	if len(firstLine) < 4 {
		return data, nil
	}

	var (
		method    string
		code      int
		requestID uint64
		msgType   core.MRCPMessageType
	)

	if len(firstLine) == 4 {
		// request-line = mrcp-version message-length method-name request-id
		method = firstLine[2]
		requestID, _ = strconv.ParseUint(firstLine[3], 10, 64)
		msgType = core.MRCPRequest
	} else {
		requestID, _ = strconv.ParseUint(firstLine[2], 10, 64)
		if requestID != 0 {
			// response-line = mrcp-version message-length request-id status-code request-state
			statusCode, _ := strconv.Atoi(firstLine[3])
			method = firstLine[3] + " " + firstLine[4]
			code = statusCode
			msgType = core.MRCPResponse
		} else {
			// event-line = mrcp-version message-length event-name request-id request-state
			method = firstLine[2]
			requestID, _ = strconv.ParseUint(firstLine[3], 10, 64)
			msgType = core.MRCPEvent
		}
	}

	if method == "" {
		return data, nil
	}
	if msgType != core.MRCPResponse {
		code = methodFromString(method)
	}

	headerSize := len(lines[0]) + 2
	var channel string
	var contentLength int
	for _, line := range lines[1:] {
		if line == "" {
			headerSize += 2
			break
		}
		headerSize += len(line) + 2

		fields := strings.SplitN(line, ":", 2)
		if len(fields) != 2 {
			break
		}
		name := strings.TrimSpace(fields[0])
		value := strings.TrimSpace(fields[1])

		switch strings.ToLower(name) {
		case "channel-identifier":
			channel = value
		case "content-length":
			contentLength, _ = strconv.Atoi(value)
		}
	}

	if channel == "" {
		return data, nil
	}
	if contentLength != len(data)-headerSize {
		return data, nil // incomplete message
	}
	if headerSize > len(data) {
		headerSize = len(data)
	}

	pkt.SetProtocolData(core.ProtoMRCP, core.PacketMRCPData{
		Type:      msgType,
		Method:    method,
		Code:      code,
		RequestID: requestID,
		Channel:   channel,
		Payload:   text,
	}, nil)

	return nil, nil
}

var _ dissector.Dissector = (*Dissector)(nil)
