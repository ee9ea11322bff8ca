package kdf

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
)

// PRF is the IEEE Std 802.11-2016 12.7.1.2 pseudo random function.
//
// It returns size bytes made of HMAC-SHA1(key, label || 0 || data || i) blocks, i counting from 0.
func PRF(key []byte, label string, data []byte, size int) []byte {
	if size <= 0 {
		return []byte{}
	}
	mac := hmac.New(sha1.New, key)
	rv := make([]byte, 0, size+sha1.Size)
	for i := 0; len(rv) < size; i++ {
		mac.Reset()
		mac.Write([]byte(label))
		mac.Write([]byte{0})
		mac.Write(data)
		mac.Write([]byte{byte(i)})
		rv = mac.Sum(rv)
	}
	return rv[:size]
}

// Min returns the lowest of a & b, bytes being compared as big endian unsigned integers.
func Min(a, b []byte) []byte {
	if bytes.Compare(a, b) < 0 {
		return a
	}
	return b
}

// Max returns the highest of a & b, bytes being compared as big endian unsigned integers.
func Max(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		return a
	}
	return b
}
