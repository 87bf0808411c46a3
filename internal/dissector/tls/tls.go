// Package tls implements the TLS record-header dissector (spec.md
// §4.10): detects a TLS handshake on a TCP stream so no further SIP
// parsing is attempted on it. Decryption is explicitly out of scope
// (spec.md Non-goals); only the record type/version is surfaced.
package tls

import (
	"github.com/otus-project/sngrep/internal/core"
	"github.com/otus-project/sngrep/internal/dissector"
)

// recordHeaderLen is the fixed 5-byte TLS record header (RFC 8446 §5.1).
const recordHeaderLen = 5

// Content types (RFC 8446 §5.1).
const (
	contentTypeChangeCipherSpec = 20
	contentTypeAlert            = 21
	contentTypeHandshake        = 22
	contentTypeApplicationData  = 23
)

// Dissector implements dissector.Dissector for a TLS record header.
type Dissector struct{}

// New builds the TLS dissector.
func New() *Dissector { return &Dissector{} }

func (d *Dissector) ID() core.ProtoID              { return core.ProtoTLS }
func (d *Dissector) Name() string                  { return "tls" }
func (d *Dissector) SubDissectors() []core.ProtoID { return nil }

func (d *Dissector) Dissect(pkt *core.Packet, data []byte) ([]byte, error) {
	if !looksLikeTLS(data) {
		return data, nil
	}
	pkt.SetProtocolData(core.ProtoTLS, struct{}{}, nil)
	return nil, nil
}

// Probe implements transport.TLSProbeFunc: it tags the stream as TLS
// without consuming bytes, since records are not reassembled any
// further (spec.md's "detect, don't decrypt" scope).
func (d *Dissector) Probe(pkt *core.Packet, data []byte) (int, bool) {
	if !looksLikeTLS(data) {
		return 0, false
	}
	pkt.SetProtocolData(core.ProtoTLS, struct{}{}, nil)
	return 0, true
}

func looksLikeTLS(data []byte) bool {
	if len(data) < recordHeaderLen {
		return false
	}
	switch data[0] {
	case contentTypeChangeCipherSpec, contentTypeAlert, contentTypeHandshake, contentTypeApplicationData:
	default:
		return false
	}
	// bytes[1:3] are the protocol version, major byte is always 0x03
	// for every TLS version including 1.0-1.3 (and SSLv3).
	return data[1] == 0x03
}

var _ dissector.Dissector = (*Dissector)(nil)
