package link

import (
	"context"
	"slices"
	"sync"

	"code.wpakey.org/golang/internal/transport"
)

// StreamLink is a Link that writes ethernet frames to a Transport.
//
// It models a link transmit queue that can be paused, regular frames are refused while the queue is
// paused, forced frames go through. Installed keys are recorded and made available by Keys.
type StreamLink struct {
	id ID
	tr transport.Transport

	mut    sync.Mutex
	paused bool
	keys   []Key
	sent   int
}

// NewStreamLink returns a StreamLink with identifier id that writes frames to tr.
func NewStreamLink(id ID, tr transport.Transport) *StreamLink {
	return &StreamLink{id: id, tr: tr}
}

// ID implements Link.
func (self *StreamLink) ID() ID {
	return self.id
}

// Send implements Link.
// It errors with ErrPaused if the link is paused and flags does not contain SendForce.
func (self *StreamLink) Send(ctx context.Context, src, dst Addr, proto uint16, payload []byte, flags SendFlags) error {
	err := ctx.Err()
	if nil != err {
		return wrapError(err, "send cancelled")
	}
	if proto != uint16(etherTypeEAPOL) {
		return newError("unsupported protocol %#04x", proto)
	}

	self.mut.Lock()
	paused := self.paused
	self.mut.Unlock()
	if paused && 0 == flags&SendForce {
		return wrapError(ErrPaused, "frame to %s refused", dst)
	}

	frame, err := EncodeEthernet(src, dst, payload)
	if nil != err {
		return wrapError(err, "failed encoding frame")
	}
	err = self.tr.WriteBytes(frame)
	if nil != err {
		return wrapError(err, "failed writing frame")
	}

	self.mut.Lock()
	self.sent += 1
	self.mut.Unlock()

	return nil
}

// InstallKey implements Link.
func (self *StreamLink) InstallKey(ctx context.Context, key Key) error {
	if 0 == len(key.Data) {
		return newError("empty key")
	}
	self.mut.Lock()
	defer self.mut.Unlock()
	key.Data = slices.Clone(key.Data)
	self.keys = append(self.keys, key)
	return nil
}

// SetPaused pauses or resumes the link transmit queue.
func (self *StreamLink) SetPaused(paused bool) {
	self.mut.Lock()
	defer self.mut.Unlock()
	self.paused = paused
}

// Keys returns the keys installed so far.
func (self *StreamLink) Keys() []Key {
	self.mut.Lock()
	defer self.mut.Unlock()
	return slices.Clone(self.keys)
}

// Sent returns the number of frames written.
func (self *StreamLink) Sent() int {
	self.mut.Lock()
	defer self.mut.Unlock()
	return self.sent
}

var _ Link = &StreamLink{}
