// Package kdf derives the WPA2 pairwise keys from a passphrase and the handshake nonces.
package kdf

import (
	"crypto/sha1"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PMKSize is the size of the Pairwise Master Key.
	PMKSize = 32

	pskIterations    = 4096
	minPassphraseLen = 8
	maxPassphraseLen = 63
	maxSSIDLen       = 32
)

// PSK derives a PMK from an ASCII passphrase and the network SSID (IEEE Std 802.11-2016, J.4.1).
// It errors if passphrase is not made of 8 to 63 printable ASCII characters
// or if ssid is empty or longer than 32 bytes.
func PSK(passphrase, ssid string) ([]byte, error) {
	if len(passphrase) < minPassphraseLen || len(passphrase) > maxPassphraseLen {
		return nil, wrapError(
			ErrorPassphrase,
			"expected %d-%d characters, got %d",
			minPassphraseLen, maxPassphraseLen, len(passphrase),
		)
	}
	for pos := range len(passphrase) {
		c := passphrase[pos]
		if c < 0x20 || c > 0x7E {
			return nil, wrapError(ErrorPassphrase, "invalid character %#x at position %d", c, pos)
		}
	}
	if 0 == len(ssid) || len(ssid) > maxSSIDLen {
		return nil, newError("invalid ssid length %d", len(ssid))
	}

	return pbkdf2.Key([]byte(passphrase), []byte(ssid), pskIterations, PMKSize, sha1.New), nil
}

// PMK returns the Pairwise Master Key for secret.
//
// A secret of PMKSize bytes is a precomputed PMK and is returned verbatim (copied),
// any other secret is a passphrase that goes through PSK.
func PMK(secret []byte, ssid string) ([]byte, error) {
	if PMKSize == len(secret) {
		rv := make([]byte, PMKSize)
		copy(rv, secret)
		return rv, nil
	}
	pmk, err := PSK(string(secret), ssid)
	return pmk, wrapError(err, "failed PSK derivation") // nil if err is nil
}
