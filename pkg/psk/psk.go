// Package psk caches Pairwise Master Keys derived from passphrases.
//
// PBKDF2 derivation runs 4096 HMAC-SHA1 iterations, a Store keeps the result so that later
// associations to the same network skip it. Entries are keyed by a digest of the SSID & passphrase,
// the passphrase itself is never stored.
package psk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"code.wpakey.org/golang/internal/observability"
	"code.wpakey.org/golang/pkg/eapol/kdf"
)

// KeySize is the size of an entry Key.
const KeySize = sha256.Size

// Key identifies a cached PMK.
type Key [KeySize]byte

// NewKey returns the Key for the PMK derived from passphrase & ssid.
func NewKey(ssid string, passphrase []byte) Key {
	h := sha256.New()
	h.Write(binary.BigEndian.AppendUint16(nil, uint16(len(ssid))))
	h.Write([]byte(ssid))
	h.Write(passphrase)
	var rv Key
	h.Sum(rv[:0])
	return rv
}

// String returns the hex encoding of the Key.
func (self Key) String() string {
	return hex.EncodeToString(self[:])
}

// Entry is a cached PMK.
type Entry struct {
	Key     Key       `cbor:"1,keyasint"`
	SSID    string    `cbor:"2,keyasint"`
	PMK     []byte    `cbor:"3,keyasint"`
	Created time.Time `cbor:"4,keyasint"`
}

// Check returns an error if the Entry is invalid.
func (self Entry) Check() error {
	if kdf.PMKSize != len(self.PMK) {
		return newError("invalid PMK size %d", len(self.PMK))
	}
	if 0 == len(self.SSID) {
		return newError("empty SSID")
	}
	if self.Key == (Key{}) {
		return newError("zero Key")
	}
	return nil
}

// Store persists PMK Entries.
type Store interface {
	// Load loads the Entry referenced by key into dst.
	// It returns true if the Entry was found.
	Load(ctx context.Context, key Key, dst *Entry) (bool, error)

	// Save saves entry, replacing any Entry with the same Key.
	Save(ctx context.Context, entry Entry) error

	// Remove removes the Entry referenced by key.
	// It returns true if the Entry existed.
	Remove(ctx context.Context, key Key) (bool, error)
}

// Derive returns the PMK for secret & ssid using kdf.PMK.
//
// If store is not nil, passphrase derived PMKs are loaded from and saved to store.
// Store failures are logged and do not prevent derivation.
func Derive(ctx context.Context, store Store, secret []byte, ssid string) ([]byte, error) {
	if nil == store || kdf.PMKSize == len(secret) {
		pmk, err := kdf.PMK(secret, ssid)
		return pmk, wrapError(err, "failed PMK derivation") // nil if err is nil
	}

	log := observability.GetObservability(ctx).Log()
	key := NewKey(ssid, secret)
	var entry Entry
	found, err := store.Load(ctx, key, &entry)
	switch {
	case nil != err:
		log.Warn("failed loading cached PMK", "error", err)
	case found && ssid == entry.SSID && nil == entry.Check():
		return entry.PMK, nil
	}

	pmk, err := kdf.PMK(secret, ssid)
	if nil != err {
		return nil, wrapError(err, "failed PMK derivation")
	}
	entry = Entry{Key: key, SSID: ssid, PMK: pmk, Created: time.Now().UTC()}
	err = store.Save(ctx, entry)
	if nil != err {
		log.Warn("failed caching PMK", "error", err)
	}

	return pmk, nil
}

// MemStore is a Store that keeps Entries in memory.
type MemStore struct {
	entries sync.Map
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Load implements Store.
func (self *MemStore) Load(_ context.Context, key Key, dst *Entry) (bool, error) {
	v, found := self.entries.Load(key)
	if !found {
		return false, nil
	}
	*dst = v.(Entry)
	dst.PMK = bytes.Clone(dst.PMK)
	return true, nil
}

// Save implements Store.
func (self *MemStore) Save(_ context.Context, entry Entry) error {
	err := entry.Check()
	if nil != err {
		return wrapError(err, "invalid entry")
	}
	entry.PMK = bytes.Clone(entry.PMK)
	self.entries.Store(entry.Key, entry)
	return nil
}

// Remove implements Store.
func (self *MemStore) Remove(_ context.Context, key Key) (bool, error) {
	_, found := self.entries.LoadAndDelete(key)
	return found, nil
}

var _ Store = &MemStore{}
