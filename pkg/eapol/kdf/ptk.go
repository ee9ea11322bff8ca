package kdf

const (
	KCKSize = 16
	KEKSize = 16

	// MaxTKSize is the largest temporal key size.
	MaxTKSize = 32

	// AddrSize is the size of a link layer address.
	AddrSize = 6

	// NonceSize is the size of a handshake nonce.
	NonceSize = 32

	ptkLabel = "Pairwise key expansion"
)

// PTK is a Pairwise Transient Key.
// It owns a single buffer that is split into KCK, KEK & TK.
type PTK struct {
	buf []byte
}

// DerivePTK expands pmk into a PTK bound to both link addresses and both nonces
// (IEEE Std 802.11-2016, 12.7.1.3).
//
// It errors if an address or a nonce has the wrong size or if tkSize is out of [1, MaxTKSize].
func DerivePTK(pmk, aa, spa, aNonce, sNonce []byte, tkSize int) (*PTK, error) {
	switch {
	case 0 == len(pmk):
		return nil, wrapError(ErrorKeyMaterial, "empty pmk")
	case AddrSize != len(aa) || AddrSize != len(spa):
		return nil, wrapError(ErrorKeyMaterial, "invalid address size")
	case NonceSize != len(aNonce) || NonceSize != len(sNonce):
		return nil, wrapError(ErrorKeyMaterial, "invalid nonce size")
	case tkSize < 1 || tkSize > MaxTKSize:
		return nil, wrapError(ErrorKeyMaterial, "invalid tk size %d", tkSize)
	}

	data := make([]byte, 0, 2*AddrSize+2*NonceSize)
	data = append(data, Min(aa, spa)...)
	data = append(data, Max(aa, spa)...)
	data = append(data, Min(aNonce, sNonce)...)
	data = append(data, Max(aNonce, sNonce)...)

	return &PTK{buf: PRF(pmk, ptkLabel, data, KCKSize+KEKSize+tkSize)}, nil
}

// KCK returns the EAPOL-Key Confirmation Key used for MIC calculation.
func (self *PTK) KCK() []byte {
	return self.buf[:KCKSize]
}

// KEK returns the EAPOL-Key Encryption Key used to wrap key data.
func (self *PTK) KEK() []byte {
	return self.buf[KCKSize : KCKSize+KEKSize]
}

// TK returns the Temporal Key installed in the link.
func (self *PTK) TK() []byte {
	return self.buf[KCKSize+KEKSize:]
}

// Bytes returns the whole PTK.
func (self *PTK) Bytes() []byte {
	return self.buf
}

// Clear zeroes the PTK buffer.
func (self *PTK) Clear() {
	clear(self.buf)
}
