package eapol

import (
	"encoding/binary"
)

const (
	// KDEType is the element type of Key Data Encapsulations.
	KDEType = 0xDD

	// KDEHeaderLen is the size of the KDE type, length & selector fields.
	KDEHeaderLen = 6
)

// KDE selectors (OUI 00-0F-AC + data type), IEEE Std 802.11-2016, 12.7.2 Table 12-6.
const (
	SelectorGTK      uint32 = 0x000FAC01
	SelectorMAC      uint32 = 0x000FAC03
	SelectorPMKID    uint32 = 0x000FAC04
	SelectorSMK      uint32 = 0x000FAC05
	SelectorNonce    uint32 = 0x000FAC06
	SelectorLifetime uint32 = 0x000FAC07
	SelectorError    uint32 = 0x000FAC08
	SelectorIGTK     uint32 = 0x000FAC09
	SelectorKeyID    uint32 = 0x000FAC0A
)

// GTKFlags is the first octet of a GTK KDE payload.
type GTKFlags uint8

const (
	GTKKeyIDMask   GTKFlags = 0x03
	GTKTransmit    GTKFlags = 0x04
	gtkPayloadHead          = 2
)

// KeyID returns the GTK key index.
func (self GTKFlags) KeyID() int {
	return int(self & GTKKeyIDMask)
}

// Transmit returns true if the GTK is also used for transmission.
func (self GTKFlags) Transmit() bool {
	return 0 != self&GTKTransmit
}

// KDE is a Key Data Encapsulation element.
type KDE struct {
	Selector uint32
	Payload  []byte
}

// ParseKDE decodes the KDE at the start of data.
// It returns the KDE and the number of bytes it occupies.
func ParseKDE(data []byte) (KDE, int, error) {
	var kde KDE
	if len(data) < KDEHeaderLen {
		return kde, 0, wrapError(ErrMalformed, "%d bytes can not hold a KDE", len(data))
	}
	if KDEType != data[0] {
		return kde, 0, wrapError(ErrMalformed, "unexpected element type %#x", data[0])
	}
	size := int(data[1])
	if size < KDEHeaderLen-2 {
		return kde, 0, wrapError(ErrMalformed, "KDE length %d below selector size", size)
	}
	if 2+size > len(data) {
		return kde, 0, wrapError(ErrMalformed, "KDE length %d overruns key data", size)
	}
	kde.Selector = binary.BigEndian.Uint32(data[2:6])
	kde.Payload = data[KDEHeaderLen : 2+size]

	return kde, 2 + size, nil
}

// AppendKDE appends the encoding of a KDE with selector & payload to dst.
func AppendKDE(dst []byte, selector uint32, payload []byte) ([]byte, error) {
	size := KDEHeaderLen - 2 + len(payload)
	if size > 0xFF {
		return dst, newError("KDE payload of %d bytes too large", len(payload))
	}
	dst = append(dst, KDEType, byte(size))
	dst = binary.BigEndian.AppendUint32(dst, selector)
	return append(dst, payload...), nil
}

// GTK is the decoded payload of a GTK KDE.
type GTK struct {
	Flags GTKFlags
	Key   []byte
}

// ParseGTK decodes a GTK from kde.
// It errors if kde is not a GTK KDE or if it holds an empty key.
func ParseGTK(kde KDE) (GTK, error) {
	var gtk GTK
	if SelectorGTK != kde.Selector {
		return gtk, newError("unexpected KDE selector %#08x", kde.Selector)
	}
	if len(kde.Payload) <= gtkPayloadHead {
		return gtk, wrapError(ErrMalformed, "empty GTK")
	}
	gtk.Flags = GTKFlags(kde.Payload[0])
	gtk.Key = make([]byte, len(kde.Payload)-gtkPayloadHead)
	copy(gtk.Key, kde.Payload[gtkPayloadHead:])

	return gtk, nil
}

// AppendGTK appends a GTK KDE to dst.
func AppendGTK(dst []byte, gtk GTK) ([]byte, error) {
	payload := make([]byte, 0, gtkPayloadHead+len(gtk.Key))
	payload = append(payload, byte(gtk.Flags), 0)
	payload = append(payload, gtk.Key...)
	return AppendKDE(dst, SelectorGTK, payload)
}
