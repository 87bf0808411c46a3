// Package core defines the value types shared by every layer of the
// capture pipeline: addresses, frames, packets and their per-protocol
// payloads. It has no dependency on dissection, capture or storage.
package core

import "fmt"

// Address is an immutable (ip, port) pair. Two addresses are Equal when
// both fields match; EqualIP compares the ip only.
type Address struct {
	IP   string
	Port uint16
}

// NewAddress constructs an Address. Addresses are value types and are
// never mutated after construction.
func NewAddress(ip string, port uint16) Address {
	return Address{IP: ip, Port: port}
}

// Equal reports whether a and b refer to the same ip and port.
func (a Address) Equal(b Address) bool {
	return a.IP == b.IP && a.Port == b.Port
}

// EqualIP reports whether a and b share the same ip, ignoring port.
func (a Address) EqualIP(b Address) bool {
	return a.IP == b.IP
}

// String renders "ip:port", the same format as storage's
// expected-stream keys (§4.13.4).
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// IsZero reports whether this is the unconstructed zero value.
func (a Address) IsZero() bool {
	return a.IP == "" && a.Port == 0
}
