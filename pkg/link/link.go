// Package link defines the network link an EAPOL key exchange runs over.
package link

import (
	"context"
	"fmt"
	"net"
)

// ID identifies a network link. At most one key exchange runs per link.
type ID uint64

// Addr is a 48 bit link layer address.
type Addr [6]byte

// Broadcast is the broadcast link layer address.
var Broadcast = Addr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ParseAddr parses a colon separated MAC address.
func ParseAddr(s string) (Addr, error) {
	var rv Addr
	hw, err := net.ParseMAC(s)
	if nil != err {
		return rv, wrapError(err, "invalid address %q", s)
	}
	if len(rv) != len(hw) {
		return rv, newError("address %q is not 48 bit", s)
	}
	copy(rv[:], hw)
	return rv, nil
}

func (self Addr) String() string {
	return net.HardwareAddr(self[:]).String()
}

// SendFlags control frame transmission.
type SendFlags uint8

const (
	// SendForce transmits the frame even if the link transmit queue is paused.
	SendForce SendFlags = 1 << iota

	// SendUnencrypted transmits the frame without link layer encryption.
	SendUnencrypted
)

// KeyFlags qualify an installed key.
type KeyFlags uint8

const (
	KeyFlagCCMP     KeyFlags = 0x1
	KeyFlagGlobal   KeyFlags = 0x2
	KeyFlagTransmit KeyFlags = 0x4
)

func (self KeyFlags) String() string {
	var s string
	if 0 != self&KeyFlagCCMP {
		s += "ccmp|"
	}
	if 0 != self&KeyFlagGlobal {
		s += "global|"
	}
	if 0 != self&KeyFlagTransmit {
		s += "transmit|"
	}
	if "" == s {
		return fmt.Sprintf("KeyFlags(%#x)", uint8(self))
	}
	return s[:len(s)-1]
}

// Key is a temporal key installed in the link.
type Key struct {
	Data  []byte
	Flags KeyFlags
	Index int
}

// Link is implemented by the network links that carry key exchanges.
type Link interface {
	// ID returns the link identifier.
	ID() ID

	// Send transmits payload from src to dst using the proto ethernet protocol number.
	Send(ctx context.Context, src, dst Addr, proto uint16, payload []byte, flags SendFlags) error

	// InstallKey installs key in the link data path.
	InstallKey(ctx context.Context, key Key) error
}
