package transport

import (
	"sync"
)

// LimitTransport is a Transport that fails after a certain number of frames have been processed.
//
// LimitTransport is provided to simulate link failures in tests.
type LimitTransport struct {
	Transport
	mut   sync.Mutex
	rsema int
	wsema int
}

// NewLimitTransport returns a new LimitTransport that wraps t.
func NewLimitTransport(t Transport) *LimitTransport {
	return &LimitTransport{Transport: t}
}

// SetReadLimit sets the number of frames that can be read before ReadBytes fails.
func (self *LimitTransport) SetReadLimit(limit int) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.rsema = -limit
}

// SetWriteLimit sets the number of frames that can be written before WriteBytes fails.
func (self *LimitTransport) SetWriteLimit(limit int) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.wsema = -limit
}

// ReadBytes errors if the read limit has been reached.
// Otherwise the frame is read from the underlying Transport.
func (self *LimitTransport) ReadBytes() ([]byte, error) {
	self.mut.Lock()
	self.rsema += 1
	if 0 == self.rsema {
		self.rsema -= 1 // fail again at next call
		self.mut.Unlock()
		return nil, wrapError(ReadLimitError, "test only")
	}
	self.mut.Unlock()

	return self.Transport.ReadBytes()
}

// WriteBytes errors if the write limit has been reached.
// Otherwise the frame is written to the underlying Transport.
func (self *LimitTransport) WriteBytes(data []byte) error {
	self.mut.Lock()
	self.wsema += 1
	if 0 == self.wsema {
		self.wsema -= 1 // fail again at next call
		self.mut.Unlock()
		return wrapError(WriteLimitError, "test only")
	}
	self.mut.Unlock()

	return self.Transport.WriteBytes(data)
}

var _ Transport = &LimitTransport{}
