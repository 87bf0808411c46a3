// Package ipreasm implements the IP dissector and its fragment
// reassembly engine (spec.md §4.3). IPv4 and IPv6 fragments are
// reassembled with a single, policy-parameterised BSD-Right-derived
// algorithm: spec.md §9 leaves the overlap policy an open question, so
// OverlapPolicy is a runtime configuration knob rather than a hardcoded
// choice, grounded on the teacher's internal/core/decoder/reassembly.go
// BSD-Right fragment list.
package ipreasm

import (
	"sync"
	"time"

	"github.com/otus-project/sngrep/internal/core"
)

// OverlapPolicy controls how overlapping fragment byte ranges are
// resolved when two fragments claim the same offset (spec.md §9 Open
// Question: "IP fragment overlap").
type OverlapPolicy int

const (
	// LastWriteWins is spec.md §4.3's default prose behavior: "the
	// latest write wins upon concatenation".
	LastWriteWins OverlapPolicy = iota
	// FirstWriteWins is the stricter alternative spec.md §9 allows,
	// grounded on the teacher's BSD-Right insertBSDRight (earlier
	// fragment data is never overwritten by a later one).
	FirstWriteWins
)

// Config tunes the reassembler. Zero values fall back to defaults that
// tolerate the "20-KB SIP message split over typical-MTU fragments"
// scenario spec.md §4.3's Policy paragraph requires.
type Config struct {
	MaxFragmentsPerDatagram int
	MaxReassembledSize      int
	Timeout                 time.Duration
	Overlap                 OverlapPolicy
}

func (c Config) withDefaults() Config {
	if c.MaxFragmentsPerDatagram <= 0 {
		c.MaxFragmentsPerDatagram = 64 // ~20KB over ~1480B MTU-sized fragments is 14; 64 leaves headroom
	}
	if c.MaxReassembledSize <= 0 {
		c.MaxReassembledSize = 65535
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// datagramKey identifies a fragmented datagram: (src, dst, ip-id).
type datagramKey struct {
	src, dst string
	version  uint8
	id       uint32
}

// assembly tracks in-progress reassembly for one datagramKey.
type assembly struct {
	mu        sync.Mutex
	buf       []byte
	written   []bool
	writtenN  int
	highest   uint32 // known only once the MF=0 fragment arrives
	haveFinal bool
	frames    []core.Frame
	fragCount int
	lastSeen  time.Time
}

// Reassembler holds one fragment-assembly table shared by the IPv4 and
// IPv6 dissectors.
type Reassembler struct {
	mu    sync.Mutex
	table map[datagramKey]*assembly
	cfg   Config
}

// NewReassembler constructs a Reassembler with cfg (zero value OK).
func NewReassembler(cfg Config) *Reassembler {
	return &Reassembler{
		table: make(map[datagramKey]*assembly),
		cfg:   cfg.withDefaults(),
	}
}

// fragmentResult is returned by process().
type fragmentResult struct {
	complete bool
	payload  []byte
	frames   []core.Frame
}

// process appends one fragment's payload at byteOffset (absolute byte
// position within the reassembled datagram) and reports completion
// once every byte up to the MF=0 fragment's end has been seen.
func (r *Reassembler) process(key datagramKey, byteOffset uint32, payload []byte, moreFragments bool, frame core.Frame) (fragmentResult, bool) {
	r.mu.Lock()
	a, ok := r.table[key]
	if !ok {
		a = &assembly{lastSeen: time.Now()}
		r.table[key] = a
	}
	r.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fragCount >= r.cfg.MaxFragmentsPerDatagram {
		r.evict(key)
		return fragmentResult{}, false
	}
	a.fragCount++
	a.lastSeen = time.Now()

	end := byteOffset + uint32(len(payload))
	if !moreFragments {
		a.haveFinal = true
		if end > a.highest {
			a.highest = end
		}
	} else if end > a.highest && !a.haveFinal {
		a.highest = end
	}

	need := end
	if int(need) > r.cfg.MaxReassembledSize {
		r.evict(key)
		return fragmentResult{}, false
	}
	if int(need) > len(a.buf) {
		grown := make([]byte, need)
		copy(grown, a.buf)
		a.buf = grown
		grownW := make([]bool, need)
		copy(grownW, a.written)
		a.written = grownW
	}

	for i, b := range payload {
		pos := int(byteOffset) + i
		if a.written[pos] {
			if r.cfg.Overlap == FirstWriteWins {
				continue // earlier fragment's byte wins, keep it
			}
		} else {
			a.writtenN++
			a.written[pos] = true
		}
		a.buf[pos] = b
	}

	a.frames = append(a.frames, frame)

	if a.haveFinal && uint32(a.writtenN) >= a.highest {
		result := fragmentResult{
			complete: true,
			payload:  append([]byte(nil), a.buf[:a.highest]...),
			frames:   append([]core.Frame(nil), a.frames...),
		}
		r.evict(key)
		return result, true
	}

	return fragmentResult{}, true
}

func (r *Reassembler) evict(key datagramKey) {
	r.mu.Lock()
	delete(r.table, key)
	r.mu.Unlock()
}

// Sweep drops datagram assemblies that have not received a fragment
// within the configured timeout — spec.md §4.3's "entries are evicted
// ... when eviction policy applies".
func (r *Reassembler) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := time.Now()
	for key, a := range r.table {
		a.mu.Lock()
		expired := now.Sub(a.lastSeen) > r.cfg.Timeout
		a.mu.Unlock()
		if expired {
			delete(r.table, key)
			n++
		}
	}
	return n
}
