// Package sip implements the SIP dissector (spec.md §4.6): message
// parsing via ghettovoice/gosip's packet parser (the same library and
// call pattern the teacher's skywalkingtracing reporter uses), header
// extraction, TCP-stream completeness via Content-Length, and
// retransmission-hash detection via a short-TTL go-cache.
package sip

import (
	"strconv"
	"strings"
	"time"

	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/otus-project/sngrep/internal/core"
	"github.com/otus-project/sngrep/internal/dissector"
)

const (
	retransmissionTTL     = 32 * time.Second
	retransmissionCleanup = 2 * time.Minute
)

// Dissector implements dissector.Dissector and transport.MessageSplitter
// for SIP (spec.md §4.6). One instance is shared by the UDP dissector's
// sub-chain and the TCP dissector's message splitter.
type Dissector struct {
	parser *parser.PacketParser
	seen   *gocache.Cache // retransmission-hash -> struct{}
	subs   []core.ProtoID
}

// New builds the SIP dissector. subs is typically [core.ProtoSDP] —
// the SDP dissector runs against the SIP body once it's extracted.
func New(logger *logrus.Entry, subs ...core.ProtoID) *Dissector {
	return &Dissector{
		parser: parser.NewPacketParser(&loggerAdapter{entry: logger}),
		seen:   gocache.New(retransmissionTTL, retransmissionCleanup),
		subs:   subs,
	}
}

func (d *Dissector) ID() core.ProtoID              { return core.ProtoSIP }
func (d *Dissector) Name() string                  { return "sip" }
func (d *Dissector) SubDissectors() []core.ProtoID { return d.subs }

// Dissect parses data as one SIP message. Input that does not parse as
// SIP is returned unchanged (spec.md §4.1's "not my protocol" signal).
func (d *Dissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	msg, err := d.parser.ParseMessage(data)
	if err != nil {
		return data, nil
	}

	sipData := d.extract(msg, data)
	sipData.Retransmission = d.markSeen(sipData)
	pkt.SetProtocolData(core.ProtoSIP, sipData, nil)

	return []byte(msg.Body()), nil
}

// Detect/Extract implement transport.MessageSplitter for the TCP
// dissector: a complete SIP message is whatever gosip can parse plus
// Content-Length bytes of body (spec.md §4.5 step 3).
func (d *Dissector) Detect(data []byte) bool {
	return headerBoundary(data) >= 0
}

func (d *Dissector) Extract(data []byte) ([]byte, int, error) {
	hdrEnd := headerBoundary(data)
	if hdrEnd < 0 {
		return nil, 0, nil
	}
	contentLength := parseContentLength(data[:hdrEnd])
	total := hdrEnd + contentLength
	if total > len(data) {
		return nil, 0, nil // body not fully arrived yet
	}
	return data[:total], total, nil
}

func (d *Dissector) extract(msg sip.Message, raw []byte) core.PacketSIPData {
	out := core.PacketSIPData{Payload: string(raw)}

	if callID, ok := msg.CallID(); ok {
		out.CallID = callID.Value()
	}
	if cseq, ok := msg.CSeq(); ok {
		seqNo, method := splitCSeq(cseq.Value())
		out.CSeq = seqNo
		if method != "" {
			out.Method = method
		}
	}
	if from, ok := msg.From(); ok {
		out.From = from.Value()
	}
	if to, ok := msg.To(); ok {
		out.To = to.Value()
		out.InitialTransaction = !strings.Contains(strings.ToLower(to.Value()), "tag=")
	}
	out.ContentLength = len(msg.Body())

	for _, h := range msg.Headers() {
		name := strings.ToLower(h.Name())
		if name == "x-call-id" {
			out.XCallID = h.Value()
		}
		if name == "authorization" || name == "proxy-authorization" {
			out.Authorization = h.Value()
		}
	}

	if req, ok := msg.(sip.Request); ok {
		out.IsRequest = true
		out.Method = string(req.Method())
	}
	if res, ok := msg.(sip.Response); ok {
		out.IsRequest = false
		out.Code = int(res.StatusCode())
		out.Reason = reasonFromStartLine(msg.StartLine())
	}

	return out
}

// splitCSeq parses a CSeq header value ("101 INVITE") into its sequence
// number and method.
func splitCSeq(value string) (int, string) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, ""
	}
	n, _ := strconv.Atoi(fields[0])
	if len(fields) > 1 {
		return n, fields[1]
	}
	return n, ""
}

// reasonFromStartLine extracts the reason phrase from a SIP status
// line ("SIP/2.0 200 OK" -> "OK").
func reasonFromStartLine(startLine string) string {
	fields := strings.SplitN(startLine, " ", 3)
	if len(fields) < 3 {
		return ""
	}
	return strings.TrimSpace(fields[2])
}

// markSeen reports whether (CallID, CSeq, Method/Code) has already been
// observed within retransmissionTTL — spec.md §4.17's retransmission
// detection, grounded on the teacher's go-cache sessionCache pattern.
func (d *Dissector) markSeen(s core.PacketSIPData) bool {
	key := s.CallID + "|" + strconv.Itoa(s.CSeq) + "|" + s.Method
	if s.Code != 0 {
		key += "|" + strconv.Itoa(s.Code)
	}
	_, exists := d.seen.Get(key)
	d.seen.Set(key, struct{}{}, gocache.DefaultExpiration)
	return exists
}

// headerBoundary returns the index just past the blank line ending the
// SIP header block (CRLFCRLF, with a bare-LF fallback), or -1 if the
// header block hasn't fully arrived.
func headerBoundary(data []byte) int {
	if idx := indexOf(data, "\r\n\r\n"); idx >= 0 {
		return idx + 4
	}
	if idx := indexOf(data, "\n\n"); idx >= 0 {
		return idx + 2
	}
	return -1
}

func indexOf(data []byte, sep string) int {
	return strings.Index(string(data), sep)
}

func parseContentLength(header []byte) int {
	lines := strings.Split(string(header), "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "content-length:") || strings.HasPrefix(lower, "l:") {
			fields := strings.SplitN(line, ":", 2)
			if len(fields) != 2 {
				continue
			}
			n, err := strconv.Atoi(strings.TrimSpace(fields[1]))
			if err == nil {
				return n
			}
		}
	}
	return 0
}

// loggerAdapter bridges a *logrus.Entry to gosip's log.Logger
// interface, grounded on the teacher's LoggerAdapter in
// skywalkingtracing/log.go.
type loggerAdapter struct {
	entry *logrus.Entry
}

func (l *loggerAdapter) Fields() gosiplog.Fields { return gosiplog.Fields{} }

func (l *loggerAdapter) WithFields(fields map[string]any) gosiplog.Logger {
	l.entry = l.entry.WithFields(fields)
	return l
}

func (l *loggerAdapter) Prefix() string                         { return "" }
func (l *loggerAdapter) WithPrefix(prefix string) gosiplog.Logger { return l }

func (l *loggerAdapter) Print(args ...any)                 { l.entry.Print(args...) }
func (l *loggerAdapter) Printf(format string, args ...any) { l.entry.Printf(format, args...) }
func (l *loggerAdapter) Trace(args ...any)                 { l.entry.Trace(args...) }
func (l *loggerAdapter) Tracef(format string, args ...any) { l.entry.Tracef(format, args...) }
func (l *loggerAdapter) Debug(args ...any)                 { l.entry.Debug(args...) }
func (l *loggerAdapter) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *loggerAdapter) Info(args ...any)                  { l.entry.Info(args...) }
func (l *loggerAdapter) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *loggerAdapter) Warn(args ...any)                  { l.entry.Warn(args...) }
func (l *loggerAdapter) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *loggerAdapter) Error(args ...any)                 { l.entry.Error(args...) }
func (l *loggerAdapter) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
func (l *loggerAdapter) Fatal(args ...any)                 { l.entry.Fatal(args...) }
func (l *loggerAdapter) Fatalf(format string, args ...any) { l.entry.Fatalf(format, args...) }
func (l *loggerAdapter) Panic(args ...any)                 { l.entry.Panic(args...) }
func (l *loggerAdapter) Panicf(format string, args ...any) { l.entry.Panicf(format, args...) }
func (l *loggerAdapter) SetLevel(level uint32)             {}

var _ dissector.Dissector = (*Dissector)(nil)
