package hepio

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/serialx/hashring"
	uuid "github.com/satori/go.uuid"

	"github.com/otus-project/sngrep/internal/core"
)

// HEPv3 chunk-type constants, mirrored from the decode side in
// internal/dissector/hep for the encode direction (spec.md §4.9's "send
// captured calls onward as HEP" operation), grounded on the teacher's
// plugins/reporter/hep/encoder.go Encode function.
const (
	chunkIPFamily  = uint16(1)
	chunkIPProto   = uint16(2)
	chunkSrcIPv4   = uint16(3)
	chunkDstIPv4   = uint16(4)
	chunkSrcIPv6   = uint16(5)
	chunkDstIPv6   = uint16(6)
	chunkSrcPort   = uint16(7)
	chunkDstPort   = uint16(8)
	chunkTimeSec   = uint16(9)
	chunkTimeUsec  = uint16(10)
	chunkProtoType = uint16(11)
	chunkCaptureID = uint16(12)
	chunkAuthKey   = uint16(14)
	chunkPayload   = uint16(15)
	chunkCorrID    = uint16(17)
	chunkNodeName  = uint16(19)

	ipFamilyV4 = uint8(2)
	ipFamilyV6 = uint8(10)
	protoSIP   = uint8(1)
)

// Sender fans captured SIP payloads out to one or more HOMER/Sipcapture
// servers as HEPv3 frames (spec.md §6's hep.servers configuration). The
// destination per call is chosen by consistent hashing on Call-ID so a
// given dialog's messages keep landing on the same collector, the way
// the teacher's hep.go selectConn picks a Kafka partition.
type Sender struct {
	ring     *hashring.HashRing
	conns    map[string]*net.UDPConn
	nodeName string
	authKey  string
	captureID uint32
}

// NewSender dials a UDP socket per server and builds the consistent-hash
// ring over them. nodeName/authKey populate chunks 19/14; captureID
// populates chunk 12.
func NewSender(servers []string, nodeName, authKey string, captureID uint32) (*Sender, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("hepio: no HEP servers configured")
	}
	conns := make(map[string]*net.UDPConn, len(servers))
	for _, s := range servers {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return nil, fmt.Errorf("hepio: resolve %s: %w", s, err)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			return nil, fmt.Errorf("hepio: dial %s: %w", s, err)
		}
		conns[s] = conn
	}
	return &Sender{
		ring:      hashring.New(servers),
		conns:     conns,
		nodeName:  nodeName,
		authKey:   authKey,
		captureID: captureID,
	}, nil
}

// Send encodes pkt's SIP payload as a HEPv3 frame and writes it to the
// server selected for sip.CallID.
func (s *Sender) Send(pkt *core.Packet, sip core.PacketSIPData) error {
	server, ok := s.ring.GetNode(sip.CallID)
	if !ok {
		return fmt.Errorf("hepio: no server for call %s", sip.CallID)
	}
	conn, ok := s.conns[server]
	if !ok {
		return fmt.Errorf("hepio: no connection for server %s", server)
	}

	ipData, _ := pkt.ProtocolData(core.ProtoIP)
	ip, _ := ipData.(core.PacketIPData)
	udpData, _ := pkt.ProtocolData(core.ProtoUDP)
	udp, _ := udpData.(core.PacketUDPData)

	frame := s.encode(ip, udp, sip, pkt.FirstTimestamp().Timestamp)
	_, err := conn.Write(frame)
	return err
}

func (s *Sender) encode(ip core.PacketIPData, udp core.PacketUDPData, sip core.PacketSIPData, ts time.Time) []byte {
	var chunks [][]byte

	family := ipFamilyV4
	srcChunk, dstChunk := chunkSrcIPv4, chunkDstIPv4
	srcIP := net.ParseIP(ip.SrcIP).To4()
	dstIP := net.ParseIP(ip.DstIP).To4()
	if srcIP == nil {
		family = ipFamilyV6
		srcChunk, dstChunk = chunkSrcIPv6, chunkDstIPv6
		srcIP = net.ParseIP(ip.SrcIP).To16()
		dstIP = net.ParseIP(ip.DstIP).To16()
	}

	chunks = append(chunks, chunk(chunkIPFamily, []byte{family}))
	ipProto := ip.Protocol
	if ipProto == 0 {
		ipProto = 17 // UDP
	}
	chunks = append(chunks, chunk(chunkIPProto, []byte{ipProto}))
	chunks = append(chunks, chunk(srcChunk, srcIP))
	chunks = append(chunks, chunk(dstChunk, dstIP))
	chunks = append(chunks, chunk(chunkSrcPort, uint16Bytes(udp.SrcPort)))
	chunks = append(chunks, chunk(chunkDstPort, uint16Bytes(udp.DstPort)))
	chunks = append(chunks, chunk(chunkTimeSec, uint32Bytes(uint32(ts.Unix()))))
	chunks = append(chunks, chunk(chunkTimeUsec, uint32Bytes(uint32(ts.Nanosecond()/1000))))
	chunks = append(chunks, chunk(chunkProtoType, []byte{protoSIP}))
	chunks = append(chunks, chunk(chunkCaptureID, uint32Bytes(s.captureID)))
	if s.authKey != "" {
		chunks = append(chunks, chunk(chunkAuthKey, []byte(s.authKey)))
	}
	if s.nodeName != "" {
		chunks = append(chunks, chunk(chunkNodeName, []byte(s.nodeName)))
	}
	corrID, err := uuid.NewV4()
	if err != nil {
		corrID = uuid.Nil
	}
	chunks = append(chunks, chunk(chunkCorrID, []byte(corrID.String())))
	chunks = append(chunks, chunk(chunkPayload, []byte(sip.Payload)))

	total := 6
	for _, c := range chunks {
		total += len(c)
	}

	buf := make([]byte, 6, total)
	copy(buf[0:4], "HEP3")
	binary.BigEndian.PutUint16(buf[4:6], uint16(total))
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	return buf
}

func chunk(typ uint16, value []byte) []byte {
	out := make([]byte, 6+len(value))
	binary.BigEndian.PutUint16(out[0:2], 0) // vendor id, 0 = generic HEP
	binary.BigEndian.PutUint16(out[2:4], typ)
	binary.BigEndian.PutUint16(out[4:6], uint16(6+len(value)))
	copy(out[6:], value)
	return out
}

func uint16Bytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// Close closes every underlying connection.
func (s *Sender) Close() error {
	var first error
	for _, c := range s.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
