// Package hepio implements the HEP listener capture input (spec.md
// §4.9/§4.11): a UDP socket receiving HEPv3-encapsulated frames from a
// remote capture agent, handed to the dissector chain starting at the
// HEP dissector rather than the link dissector.
package hepio

import (
	"net"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/otus-project/sngrep/internal/core"
)

// Input listens for HEPv3 UDP datagrams (spec.md §6's hep.listen_url).
type Input struct {
	name string
	conn *net.UDPConn
	buf  []byte
}

// Listen opens a UDP socket at addr (host:port) for inbound HEP
// frames.
func Listen(addr string) (*Input, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Input{name: "hep:" + addr, conn: conn, buf: make([]byte, 65535)}, nil
}

func (i *Input) Name() string { return i.name }

// LinkType reports a synthetic marker; HEP frames carry their own
// reconstructed IP/UDP data and are dissected starting at core.ProtoHEP,
// never through the link dissector.
func (i *Input) LinkType() layers.LinkType { return layers.LinkTypeLoop }

// SetFilter is a no-op: HEP input has no BPF capture surface (spec.md
// §4.11's filter semantics apply to link-layer captures only).
func (i *Input) SetFilter(string) error { return nil }

func (i *Input) ReadPacket() (core.Frame, error) {
	_ = i.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, _, err := i.conn.ReadFromUDP(i.buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return core.Frame{}, errTimeout{}
		}
		return core.Frame{}, err
	}
	data := make([]byte, n)
	copy(data, i.buf[:n])
	return core.NewFrame(time.Now(), data), nil
}

func (i *Input) Close() error { return i.conn.Close() }

// errTimeout signals "no data this poll" without tripping the capture
// manager's EOF/offline-exhausted path.
type errTimeout struct{}

func (errTimeout) Error() string { return "hepio: read timeout" }
