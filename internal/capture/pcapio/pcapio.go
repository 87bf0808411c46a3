// Package pcapio implements libpcap-backed capture inputs and outputs
// (spec.md §4.11/§4.12): a live interface or an offline pcap file for
// reading, and a pcap writer or text dump for writing. Grounded on the
// teacher's internal/source/file (pcap.OpenOffline) and
// internal/otus/module/capture/handle (CaptureHandle abstraction,
// BPF-via-utils.CompileBpf), adapted from its AF_PACKET-specific
// construction to the portable gopacket/pcap live/offline API.
package pcapio

import (
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"

	"github.com/otus-project/sngrep/internal/core"
)

// LiveInput captures from a network interface via libpcap.
type LiveInput struct {
	name   string
	handle *pcap.Handle
}

// OpenLive opens iface for live capture. snapLen bounds how much of
// each packet is captured; promisc enables promiscuous mode; timeout
// is libpcap's read timeout (spec.md §6's capture.timeout).
func OpenLive(iface string, snapLen int, promisc bool, timeout time.Duration) (*LiveInput, error) {
	handle, err := pcap.OpenLive(iface, int32(snapLen), promisc, timeout)
	if err != nil {
		return nil, fmt.Errorf("pcapio: open live %s: %w", iface, err)
	}
	return &LiveInput{name: iface, handle: handle}, nil
}

func (l *LiveInput) Name() string              { return l.name }
func (l *LiveInput) LinkType() layers.LinkType { return l.handle.LinkType() }

func (l *LiveInput) SetFilter(bpfExpr string) error {
	if bpfExpr == "" {
		return nil
	}
	return l.handle.SetBPFFilter(bpfExpr)
}

func (l *LiveInput) ReadPacket() (core.Frame, error) {
	data, ci, err := l.handle.ReadPacketData()
	if err != nil {
		return core.Frame{}, err
	}
	return core.Frame{
		Timestamp:   ci.Timestamp,
		CapturedLen: uint32(ci.CaptureLength),
		WireLen:     uint32(ci.Length),
		Bytes:       data,
	}, nil
}

func (l *LiveInput) Close() error {
	l.handle.Close()
	return nil
}

// OfflineInput reads a previously captured .pcap/.pcapng file.
type OfflineInput struct {
	name   string
	handle *pcap.Handle
}

// OpenOffline opens an existing capture file for replay (spec.md
// §4.12's "read an existing capture" operation).
func OpenOffline(path string) (*OfflineInput, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("pcapio: open offline %s: %w", path, err)
	}
	return &OfflineInput{name: path, handle: handle}, nil
}

func (o *OfflineInput) Name() string              { return o.name }
func (o *OfflineInput) LinkType() layers.LinkType { return o.handle.LinkType() }
func (o *OfflineInput) SetFilter(bpfExpr string) error {
	if bpfExpr == "" {
		return nil
	}
	return o.handle.SetBPFFilter(bpfExpr)
}

func (o *OfflineInput) ReadPacket() (core.Frame, error) {
	data, ci, err := o.handle.ReadPacketData()
	if err != nil {
		return core.Frame{}, err
	}
	return core.Frame{
		Timestamp:   ci.Timestamp,
		CapturedLen: uint32(ci.CaptureLength),
		WireLen:     uint32(ci.Length),
		Bytes:       data,
	}, nil
}

func (o *OfflineInput) Close() error {
	o.handle.Close()
	return nil
}

// Writer persists frames to a pcap file (spec.md §4.12's "write a
// capture to disk" operation).
type Writer struct {
	name string
	f    io.WriteCloser
	w    *pcapgo.Writer
}

// NewWriter wraps f and emits a pcap file header for linkType; name
// labels the writer. f must already be open for writing (caller owns
// lifecycle concerns like file permission/truncation semantics).
func NewWriter(name string, f io.WriteCloser, linkType layers.LinkType, snapLen int) (*Writer, error) {
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(uint32(snapLen), linkType); err != nil {
		return nil, fmt.Errorf("pcapio: write file header: %w", err)
	}
	return &Writer{name: name, f: f, w: w}, nil
}

func (o *Writer) Name() string { return o.name }

func (o *Writer) WritePacket(frame core.Frame, linkType layers.LinkType) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     frame.Timestamp,
		CaptureLength: int(frame.CapturedLen),
		Length:        int(frame.WireLen),
	}
	return o.w.WritePacket(ci, frame.Bytes)
}

func (o *Writer) Close() error { return o.f.Close() }
