// Package transport moves length prefixed link frames over byte streams.
package transport

import (
	"encoding/binary"
	"io"
	"sync"
)

// MaxFrameSize is the largest frame a Transport can carry.
const MaxFrameSize = 0xFFFF

// Transport reads & writes whole frames.
type Transport interface {
	ReadBytes() ([]byte, error)
	WriteBytes(data []byte) error
}

// T aliases Transport
type T = Transport

// RWTransport is a Transport that prefixes each frame with its uint16 big endian size.
//
// Concurrent WriteBytes calls are serialized, ReadBytes must be called from a single goroutine.
type RWTransport struct {
	R io.Reader // source from which frames are read.
	W io.Writer // destination to which frames are written.

	wmut sync.Mutex
}

// NewRWTransport returns a Transport that reads & writes frames on rw.
func NewRWTransport(rw io.ReadWriter) *RWTransport {
	return &RWTransport{R: rw, W: rw}
}

func (self *RWTransport) ReadBytes() ([]byte, error) {
	// read size
	psb := make([]byte, 2)
	_, err := io.ReadFull(self.R, psb)
	if nil != err {
		return nil, wrapError(err, "failed reading frame size")
	}
	psz := binary.BigEndian.Uint16(psb)

	// read data
	data := make([]byte, int(psz))
	_, err = io.ReadFull(self.R, data)
	if nil != err {
		return nil, wrapError(err, "failed reading frame")
	}

	return data, nil
}

func (self *RWTransport) WriteBytes(data []byte) error {
	if len(data) > MaxFrameSize {
		return newError("frame larger than %d", MaxFrameSize)
	}

	// prefix data with uint16 length
	pdata := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(pdata, uint16(len(data)))
	copy(pdata[2:], data)

	self.wmut.Lock()
	defer self.wmut.Unlock()
	_, err := self.W.Write(pdata)

	return wrapError(err, "failed writing frame") // nil if err is nil
}

var _ Transport = &RWTransport{}
