package eapol

import (
	"fmt"
)

// KeyInfo is the Key Information bitfield of an EAPOL-Key frame (IEEE Std 802.11-2016, 12.7.2).
type KeyInfo uint16

const (
	KeyInfoVersionMask KeyInfo = 0x0007
	KeyInfoPairwise    KeyInfo = 1 << 3
	KeyInfoInstall     KeyInfo = 1 << 6
	KeyInfoACK         KeyInfo = 1 << 7
	KeyInfoMIC         KeyInfo = 1 << 8
	KeyInfoSecure      KeyInfo = 1 << 9
	KeyInfoError       KeyInfo = 1 << 10
	KeyInfoRequest     KeyInfo = 1 << 11
	KeyInfoEncrypted   KeyInfo = 1 << 12
	KeyInfoSMK         KeyInfo = 1 << 13

	// messageMask selects the bits that identify a 4-way handshake message.
	messageMask KeyInfo = 0x3FC8
)

// KeyVersion is the key descriptor version carried in KeyInfo.
// It selects the key data encryption & MIC algorithms.
type KeyVersion uint16

const (
	KeyVersionRC4HMACMD5  KeyVersion = 1
	KeyVersionAESHMACSHA1 KeyVersion = 2
	KeyVersionAESCMAC     KeyVersion = 3
)

func (self KeyVersion) String() string {
	switch self {
	case KeyVersionRC4HMACMD5:
		return "ARC4/HMAC-MD5"
	case KeyVersionAESHMACSHA1:
		return "AES/HMAC-SHA1-128"
	case KeyVersionAESCMAC:
		return "AES/AES-128-CMAC"
	default:
		return fmt.Sprintf("KeyVersion(%d)", uint16(self))
	}
}

// Message identifies a 4-way handshake message.
type Message int

const (
	MessageUnknown Message = iota
	Message1
	Message2
	Message3
	Message4
)

func (self Message) String() string {
	switch self {
	case Message1, Message2, Message3, Message4:
		return fmt.Sprintf("message %d", int(self))
	default:
		return "unknown message"
	}
}

// messageBits maps each Message to its KeyInfo value under messageMask.
var messageBits = [...]KeyInfo{
	Message1: KeyInfoACK | KeyInfoPairwise,
	Message2: KeyInfoMIC | KeyInfoPairwise,
	Message3: KeyInfoEncrypted | KeyInfoSecure | KeyInfoMIC | KeyInfoACK | KeyInfoInstall | KeyInfoPairwise,
	Message4: KeyInfoSecure | KeyInfoMIC | KeyInfoPairwise,
}

// NewKeyInfo returns the KeyInfo for sending msg with key version v.
func NewKeyInfo(msg Message, v KeyVersion) KeyInfo {
	var bits KeyInfo
	if msg > MessageUnknown && int(msg) < len(messageBits) {
		bits = messageBits[msg]
	}
	return bits | (KeyInfo(v) & KeyInfoVersionMask)
}

// Version returns the key descriptor version.
func (self KeyInfo) Version() KeyVersion {
	return KeyVersion(self & KeyInfoVersionMask)
}

// IsSet returns true if any of the mask bits is set.
func (self KeyInfo) IsSet(mask KeyInfo) bool {
	return 0 != self&mask
}

// Message classifies the KeyInfo, it returns MessageUnknown if it does not match a 4-way handshake message.
func (self KeyInfo) Message() Message {
	bits := self & messageMask
	for msg := Message1; int(msg) < len(messageBits); msg++ {
		if bits == messageBits[msg] {
			return msg
		}
	}
	return MessageUnknown
}
