// Package eapol encodes and authenticates the EAPOL-Key frames of the WPA2 4-way handshake.
package eapol

import (
	"encoding/binary"
)

const (
	// ProtocolVersion is the highest 802.1X protocol version accepted and the version used for sending.
	ProtocolVersion = 2

	// PacketTypeKey is the EAPOL packet type of key frames.
	PacketTypeKey = 3

	// DescriptorTypeRSN is the 802.11 RSN key descriptor type.
	DescriptorTypeRSN = 2

	// EtherType is the link layer protocol number of EAPOL.
	EtherType = 0x888E

	HeaderLen = 4

	// KeyFrameLen is the size of a key frame, header included, without its key data.
	KeyFrameLen = 99

	NonceSize = 32
	IVSize    = 16
	RSCSize   = 8
	MICSize   = 16

	bodyMinLen = KeyFrameLen - HeaderLen
)

// KeyFrame is an EAPOL-Key frame with an RSN key descriptor and a 16 bytes MIC.
type KeyFrame struct {
	Version        uint8
	PacketType     uint8
	BodyLength     uint16
	DescriptorType uint8
	Info           KeyInfo
	KeyLength      uint16
	ReplayCounter  uint64
	Nonce          [NonceSize]byte
	IV             [IVSize]byte
	RSC            [RSCSize]byte
	Reserved       [8]byte
	MIC            [MICSize]byte
	DataLength     uint16
	Data           []byte
}

// NewKeyFrame returns a KeyFrame whose header fields are set for sending.
func NewKeyFrame(info KeyInfo, replayCounter uint64) *KeyFrame {
	return &KeyFrame{
		Version:        ProtocolVersion,
		PacketType:     PacketTypeKey,
		DescriptorType: DescriptorTypeRSN,
		Info:           info,
		ReplayCounter:  replayCounter,
	}
}

// Parse decodes raw into a KeyFrame.
//
// Bytes following the packet body are ignored. The returned error wraps ErrMalformed
// if raw does not hold a supported EAPOL-Key frame.
func Parse(raw []byte) (*KeyFrame, error) {
	if len(raw) < HeaderLen {
		return nil, wrapError(ErrMalformed, "frame of %d bytes can not hold a header", len(raw))
	}

	f := &KeyFrame{
		Version:    raw[0],
		PacketType: raw[1],
		BodyLength: binary.BigEndian.Uint16(raw[2:4]),
	}
	switch {
	case f.Version > ProtocolVersion:
		return nil, wrapError(ErrMalformed, "unsupported protocol version %d", f.Version)
	case PacketTypeKey != f.PacketType:
		return nil, wrapError(ErrMalformed, "unexpected packet type %d", f.PacketType)
	case HeaderLen+int(f.BodyLength) > len(raw):
		return nil, wrapError(
			ErrMalformed,
			"body length %d exceeds the %d bytes of frame data",
			f.BodyLength, len(raw)-HeaderLen,
		)
	case int(f.BodyLength) < bodyMinLen:
		return nil, wrapError(ErrMalformed, "body length %d can not hold a key frame", f.BodyLength)
	}

	body := raw[HeaderLen : HeaderLen+int(f.BodyLength)]
	f.DescriptorType = body[0]
	if DescriptorTypeRSN != f.DescriptorType {
		return nil, wrapError(ErrMalformed, "unsupported descriptor type %d", f.DescriptorType)
	}
	f.Info = KeyInfo(binary.BigEndian.Uint16(body[1:3]))
	f.KeyLength = binary.BigEndian.Uint16(body[3:5])
	f.ReplayCounter = binary.BigEndian.Uint64(body[5:13])
	copy(f.Nonce[:], body[13:45])
	copy(f.IV[:], body[45:61])
	copy(f.RSC[:], body[61:69])
	copy(f.Reserved[:], body[69:77])
	copy(f.MIC[:], body[77:93])
	f.DataLength = binary.BigEndian.Uint16(body[93:95])
	if int(f.DataLength) > len(body)-bodyMinLen {
		return nil, wrapError(ErrMalformed, "key data length %d overruns the frame body", f.DataLength)
	}
	f.Data = make([]byte, f.DataLength)
	copy(f.Data, body[bodyMinLen:])

	return f, nil
}

// Bytes returns the frame encoding. BodyLength & DataLength are updated from Data.
func (self *KeyFrame) Bytes() []byte {
	return self.AppendBytes(make([]byte, 0, KeyFrameLen+len(self.Data)))
}

// AppendBytes appends the frame encoding to dst. BodyLength & DataLength are updated from Data.
func (self *KeyFrame) AppendBytes(dst []byte) []byte {
	self.syncLengths()
	return self.encode(dst)
}

func (self *KeyFrame) syncLengths() {
	self.DataLength = uint16(len(self.Data))
	self.BodyLength = uint16(bodyMinLen + len(self.Data))
}

// encode appends the frame fields to dst as they are.
func (self *KeyFrame) encode(dst []byte) []byte {
	dst = append(dst, self.Version, self.PacketType)
	dst = binary.BigEndian.AppendUint16(dst, self.BodyLength)
	dst = append(dst, self.DescriptorType)
	dst = binary.BigEndian.AppendUint16(dst, uint16(self.Info))
	dst = binary.BigEndian.AppendUint16(dst, self.KeyLength)
	dst = binary.BigEndian.AppendUint64(dst, self.ReplayCounter)
	dst = append(dst, self.Nonce[:]...)
	dst = append(dst, self.IV[:]...)
	dst = append(dst, self.RSC[:]...)
	dst = append(dst, self.Reserved[:]...)
	dst = append(dst, self.MIC[:]...)
	dst = binary.BigEndian.AppendUint16(dst, self.DataLength)
	dst = append(dst, self.Data...)

	return dst
}

// Message classifies the frame KeyInfo.
func (self *KeyFrame) Message() Message {
	return self.Info.Message()
}
