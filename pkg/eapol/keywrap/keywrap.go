// Package keywrap implements the AES Key Wrap algorithm (RFC 3394) used to protect EAPOL key data.
package keywrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
)

const (
	// KEKSize is the size of the Key Encryption Key.
	KEKSize = 16

	// Overhead is the number of bytes Wrap adds to its input.
	Overhead = 8

	semiblock = 8
	minInput  = 2 * semiblock
	rounds    = 6
	padStart  = 0xDD
)

var defaultIV = [semiblock]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// Pad extends data to at least 16 bytes and to a multiple of 8 bytes.
// Padding starts with 0xDD followed by zeros, aligned data of 16 bytes or more is returned unchanged.
func Pad(data []byte) []byte {
	size := len(data)
	if size < minInput {
		size = minInput
	} else if 0 != size%semiblock {
		size += semiblock - size%semiblock
	}
	if size == len(data) {
		return data
	}

	rv := make([]byte, size)
	copy(rv, data)
	rv[len(data)] = padStart
	return rv
}

// Wrap encrypts plaintext with kek.
// It errors if kek is not 16 bytes or if plaintext is not a multiple of 8 bytes of at least 16 bytes.
func Wrap(kek, plaintext []byte) ([]byte, error) {
	block, err := newBlock(kek)
	if nil != err {
		return nil, wrapError(err, "invalid kek")
	}
	if len(plaintext) < minInput || 0 != len(plaintext)%semiblock {
		return nil, newError("invalid plaintext size %d", len(plaintext))
	}

	n := len(plaintext) / semiblock
	out := make([]byte, len(plaintext)+Overhead)
	copy(out, defaultIV[:])
	copy(out[semiblock:], plaintext)

	var b [aes.BlockSize]byte
	for j := range rounds {
		for i := 1; i <= n; i++ {
			r := out[i*semiblock : (i+1)*semiblock]
			copy(b[:semiblock], out[:semiblock])
			copy(b[semiblock:], r)
			block.Encrypt(b[:], b[:])

			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(out[:semiblock], binary.BigEndian.Uint64(b[:semiblock])^t)
			copy(r, b[semiblock:])
		}
	}

	return out, nil
}

// Unwrap decrypts ciphertext with kek.
//
// It errors if kek is not 16 bytes or if ciphertext is not a multiple of 8 bytes of at least 24 bytes.
// If the integrity check fails, the returned error wraps ErrUnwrapAuth.
func Unwrap(kek, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(kek)
	if nil != err {
		return nil, wrapError(err, "invalid kek")
	}
	if len(ciphertext) < minInput+Overhead || 0 != len(ciphertext)%semiblock {
		return nil, newError("invalid ciphertext size %d", len(ciphertext))
	}

	n := len(ciphertext)/semiblock - 1
	var a [semiblock]byte
	copy(a[:], ciphertext[:semiblock])
	out := make([]byte, len(ciphertext)-Overhead)
	copy(out, ciphertext[semiblock:])

	var b [aes.BlockSize]byte
	for j := rounds - 1; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			r := out[(i-1)*semiblock : i*semiblock]
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(b[:semiblock], binary.BigEndian.Uint64(a[:])^t)
			copy(b[semiblock:], r)
			block.Decrypt(b[:], b[:])

			copy(a[:], b[:semiblock])
			copy(r, b[semiblock:])
		}
	}

	if 1 != subtle.ConstantTimeCompare(a[:], defaultIV[:]) {
		clear(out)
		return nil, wrapError(ErrUnwrapAuth, "unexpected IV")
	}

	return out, nil
}

func newBlock(kek []byte) (cipher.Block, error) {
	if KEKSize != len(kek) {
		return nil, newError("expected %d bytes kek, got %d", KEKSize, len(kek))
	}
	return aes.NewCipher(kek)
}
