// Package dissector implements the protocol dissection framework
// described in spec.md §4.1: a by-ID registry of dissectors, each
// declaring its sub-dissector chain, dissecting a byte prefix and
// attaching parsed data to a Packet's sparse protocol map.
package dissector

import "github.com/otus-project/sngrep/internal/core"

// Dissector is the tagged-variant dispatch unit spec.md §9 calls for
// instead of runtime inheritance: one struct per protocol, looked up
// by ID in a Registry.
type Dissector interface {
	// ID returns this dissector's stable protocol id.
	ID() core.ProtoID

	// Name is the human-readable protocol name used in logs/metrics.
	Name() string

	// SubDissectors lists, in try order, the protocol ids attempted
	// after a successful Dissect.
	SubDissectors() []core.ProtoID

	// Dissect consumes a prefix of data, attaches parsed data to pkt
	// under this dissector's ID, and returns the remaining bytes.
	//
	// Returning data unchanged (same slice, same length) signals "not
	// my protocol, try the next sibling" per spec.md §4.1 — this is
	// also how a ParseError manifests (spec.md §7): never as a Go
	// error value, always as this same-slice-identity return.
	Dissect(pkt *core.Packet, data []byte) ([]byte, error)
}

// FreeDataDissector is implemented by dissectors that attach data
// needing explicit release when a Packet's refcount reaches zero.
type FreeDataDissector interface {
	FreeData(pkt *core.Packet)
}

// unchanged reports whether out is the same unconsumed prefix as in —
// the "not my protocol" / ParseError signal of spec.md §4.1/§7.
func unchanged(in, out []byte) bool {
	return len(in) == len(out) && (len(in) == 0 || &in[0] == &out[0])
}

// Registry is the by-ID lookup table of available dissectors. A
// disabled protocol (spec.md §4.1's configuration toggles) is simply
// absent from the map — Dissect then stops at that protocol,
// exactly as spec.md requires.
type Registry struct {
	dissectors map[core.ProtoID]Dissector
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{dissectors: make(map[core.ProtoID]Dissector)}
}

// Register adds d to the registry, keyed by d.ID(). Registering the
// same ID twice replaces the previous entry.
func (r *Registry) Register(d Dissector) {
	r.dissectors[d.ID()] = d
}

// Enabled reports whether a protocol has an available dissector.
func (r *Registry) Enabled(id core.ProtoID) bool {
	_, ok := r.dissectors[id]
	return ok
}

// Get returns the dissector registered for id, if any.
func (r *Registry) Get(id core.ProtoID) (Dissector, bool) {
	d, ok := r.dissectors[id]
	return d, ok
}

// FreeFuncFor returns the FreeData method of the dissector registered
// for id as a core.FreeFunc, or nil when no dissector is registered for
// id or it does not implement FreeDataDissector.
func (r *Registry) FreeFuncFor(id core.ProtoID) core.FreeFunc {
	d, ok := r.dissectors[id]
	if !ok {
		return nil
	}
	fd, ok := d.(FreeDataDissector)
	if !ok {
		return nil
	}
	return fd.FreeData
}

// Dissect runs the dissector registered for root against data, then
// walks its sub-dissector chain: each child is tried, in order, on the
// bytes the root left; the first child that consumes anything (returns
// something other than its input unchanged) wins, its own chain is
// walked the same way, and what remains is returned. If every child
// declines, the bytes left after the root are returned. If the root
// itself declines, data is returned unchanged.
func (r *Registry) Dissect(root core.ProtoID, pkt *core.Packet, data []byte) ([]byte, error) {
	d, ok := r.dissectors[root]
	if !ok {
		return data, nil
	}

	rest, err := d.Dissect(pkt, data)
	if err != nil {
		return data, err
	}
	if unchanged(data, rest) {
		// Not this protocol — propagate unchanged to caller's sibling loop.
		return data, nil
	}

	for _, childID := range d.SubDissectors() {
		if len(rest) == 0 {
			break
		}
		next, ok := r.dissectors[childID]
		if !ok {
			continue // disabled dissector: chain stops here per spec.md §4.1
		}
		out, err := next.Dissect(pkt, rest)
		if err != nil {
			continue
		}
		if unchanged(rest, out) {
			continue // this sibling declined, try the next one
		}
		rest = out
		// Recurse into this child's own sub-dissector chain.
		rest, err = r.dissectNextChain(next, pkt, rest)
		if err != nil {
			return rest, err
		}
		break
	}

	return rest, nil
}

// dissectNextChain recursively walks d's sub-dissector chain after d
// itself has already consumed its prefix.
func (r *Registry) dissectNextChain(d Dissector, pkt *core.Packet, data []byte) ([]byte, error) {
	for _, childID := range d.SubDissectors() {
		if len(data) == 0 {
			break
		}
		next, ok := r.dissectors[childID]
		if !ok {
			continue
		}
		out, err := next.Dissect(pkt, data)
		if err != nil {
			continue
		}
		if unchanged(data, out) {
			continue
		}
		return r.dissectNextChain(next, pkt, out)
	}
	return data, nil
}
