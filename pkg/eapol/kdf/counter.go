package kdf

import (
	"encoding/binary"
	"io"
	"sync"
	"time"
)

const (
	counterSize  = 32
	counterLabel = "Init Counter"
)

// KeyCounter is the 256 bit global key counter of IEEE Std 802.11-2016, 12.7.5.
// It is safe for concurrent use, its lock is independent of any exchange lock.
type KeyCounter struct {
	mut sync.Mutex
	val [counterSize]byte
}

// NewKeyCounter returns a KeyCounter seeded with PRF(random, "Init Counter", addr || now).
// It errors if rnd fails delivering 32 bytes.
func NewKeyCounter(addr [AddrSize]byte, rnd io.Reader, now time.Time) (*KeyCounter, error) {
	seed := make([]byte, counterSize)
	_, err := io.ReadFull(rnd, seed)
	if nil != err {
		return nil, wrapError(err, "failed reading counter seed")
	}

	data := make([]byte, 0, AddrSize+8)
	data = append(data, addr[:]...)
	data = binary.BigEndian.AppendUint64(data, uint64(now.UnixNano()))

	rv := &KeyCounter{}
	copy(rv.val[:], PRF(seed, counterLabel, data, counterSize))
	clear(seed)

	return rv, nil
}

// Read copies the low min(len(dst), 32) bytes of the counter into dst and then increments the counter.
// It returns the number of bytes copied.
func (self *KeyCounter) Read(dst []byte) int {
	self.mut.Lock()
	defer self.mut.Unlock()

	n := min(len(dst), counterSize)
	copy(dst[:n], self.val[counterSize-n:])

	// big endian increment with carry
	for pos := counterSize - 1; pos >= 0; pos-- {
		self.val[pos] += 1
		if 0 != self.val[pos] {
			break
		}
	}

	return n
}

// Nonce returns the next 32 bytes counter value.
func (self *KeyCounter) Nonce() [NonceSize]byte {
	var rv [NonceSize]byte
	self.Read(rv[:])
	return rv
}
