package core

import (
	"sort"
	"sync/atomic"
)

// FreeFunc releases protocol data a dissector attached to a Packet.
// Registered per ProtoID by the dissector registry so Packet itself
// never needs to know dissector internals.
type FreeFunc func(pkt *Packet)

// Packet is the reference-counted aggregate that flows through the
// dissection pipeline. It holds every Frame that contributed to it
// (more than one after IP-fragment or TCP-segment reassembly) and a
// sparse map from protocol id to that protocol's parsed data.
//
// Invariant: Frames are always ordered so that Frames[i].Timestamp <=
// Frames[i+1].Timestamp.
type Packet struct {
	Frames []Frame
	proto  map[ProtoID]any
	refs   int32
	free   map[ProtoID]FreeFunc
}

// NewPacket wraps frames into a fresh Packet with a refcount of 1.
func NewPacket(frames ...Frame) *Packet {
	return &Packet{
		Frames: frames,
		proto:  make(map[ProtoID]any, 4),
		refs:   1,
		free:   make(map[ProtoID]FreeFunc, 4),
	}
}

// Retain increments the reference count. Called whenever a second
// owner (e.g. a Message and a Stream) needs to keep the packet alive.
func (p *Packet) Retain() {
	atomic.AddInt32(&p.refs, 1)
}

// Release decrements the reference count and, when it reaches zero,
// invokes every registered FreeFunc so dissectors can release their
// parsed data.
func (p *Packet) Release() {
	if atomic.AddInt32(&p.refs, -1) > 0 {
		return
	}
	for id, fn := range p.free {
		if fn != nil {
			fn(p)
		}
		delete(p.proto, id)
	}
}

// SetProtocolData attaches parsed data under id, optionally registering
// a free function invoked when the packet's refcount reaches zero.
func (p *Packet) SetProtocolData(id ProtoID, data any, free FreeFunc) {
	p.proto[id] = data
	if free != nil {
		p.free[id] = free
	}
}

// HasProtocol reports whether a dissector has attached data for id.
func (p *Packet) HasProtocol(id ProtoID) bool {
	_, ok := p.proto[id]
	return ok
}

// ProtocolData returns the parsed data attached under id, if any.
func (p *Packet) ProtocolData(id ProtoID) (any, bool) {
	v, ok := p.proto[id]
	return v, ok
}

// FirstTimestamp returns the earliest frame; its Timestamp is the
// packet's canonical capture time.
func (p *Packet) FirstTimestamp() (t Frame) {
	if len(p.Frames) == 0 {
		return Frame{}
	}
	return p.Frames[0]
}

// AppendFrames merges another packet's frame list into this one,
// preserving timestamp order. Used by IP/TCP reassembly when the final
// fragment/segment's owning packet absorbs the earlier ones.
func (p *Packet) AppendFrames(frames []Frame) {
	p.Frames = append(p.Frames, frames...)
	sort.SliceStable(p.Frames, func(i, j int) bool {
		return p.Frames[i].Timestamp.Before(p.Frames[j].Timestamp)
	})
}

// TotalBytes returns the sum of all frame byte lengths (captured).
func (p *Packet) TotalBytes() int {
	n := 0
	for _, f := range p.Frames {
		n += len(f.Bytes)
	}
	return n
}
