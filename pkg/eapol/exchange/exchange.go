// Package exchange runs the WPA2 4-way handshake that derives and installs the keys of a link.
package exchange

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"code.wpakey.org/golang/internal/fsm"
	"code.wpakey.org/golang/pkg/eapol"
	"code.wpakey.org/golang/pkg/eapol/kdf"
	"code.wpakey.org/golang/pkg/link"
)

// State is the handshake progress of an Exchange.
type State int

const (
	StateAwaitingMessage1 State = iota
	StateAwaitingMessage2
	StateAwaitingMessage3
	StateAwaitingMessage4
	StateComplete
	countState
)

func (self State) String() string {
	switch self {
	case StateAwaitingMessage1:
		return "awaiting message 1"
	case StateAwaitingMessage2:
		return "awaiting message 2"
	case StateAwaitingMessage3:
		return "awaiting message 3"
	case StateAwaitingMessage4:
		return "awaiting message 4"
	case StateComplete:
		return "complete"
	default:
		return "invalid state"
	}
}

// Node holds what an Exchange knows about one end of the link.
type Node struct {
	Addr  link.Addr
	RSN   []byte
	Nonce [kdf.NonceSize]byte
}

// role is implemented by supplicant & authenticator.
type role interface {
	fsm.StateM[State]

	kind() Role

	// start runs once the Exchange is registered.
	start(ctx context.Context) error

	// update processes an inbound frame that passed the Exchange checks.
	update(ctx context.Context, frame *eapol.KeyFrame) error
}

// Exchange is a 4-way handshake in progress on a link.
//
// Exchanges are created by Registry.Create and released by Destroy.
type Exchange struct {
	id         string
	log        *slog.Logger
	lnk        link.Link
	reg        *Registry
	onComplete CompleteFunc
	counter    *kdf.KeyCounter
	limiter    *rate.Limiter

	refs      atomic.Int32
	destroyed atomic.Bool

	// fields below are protected by mut
	mut           sync.Mutex
	role          role
	supplicant    Node
	authenticator Node
	pmk           []byte
	ptk           *kdf.PTK
	gtk           eapol.GTK
	replayValid   bool
	replayCounter uint64
	registered    bool
	concluded     bool
	result        error
}

// ID returns the Exchange trace identifier.
func (self *Exchange) ID() string {
	return self.id
}

// Link returns the link the Exchange runs on.
func (self *Exchange) Link() link.Link {
	return self.lnk
}

// Role returns the Exchange role.
func (self *Exchange) Role() Role {
	return self.role.kind()
}

// State returns the Exchange current State.
func (self *Exchange) State() State {
	self.mut.Lock()
	defer self.mut.Unlock()
	return self.role.State()
}

// Err returns the Exchange completion status.
// It returns nil while the Exchange is running or if it succeeded.
func (self *Exchange) Err() error {
	self.mut.Lock()
	defer self.mut.Unlock()
	return self.result
}

// Nodes returns the supplicant & authenticator Nodes.
// Peer nonces are zero until received.
func (self *Exchange) Nodes() (supplicant, authenticator Node) {
	self.mut.Lock()
	defer self.mut.Unlock()
	supplicant, authenticator = self.supplicant, self.authenticator
	supplicant.RSN = bytes.Clone(supplicant.RSN)
	authenticator.RSN = bytes.Clone(authenticator.RSN)
	return supplicant, authenticator
}

// Keys returns copies of the Exchange PMK & PTK.
// ptk is nil until the PTK is derived and both are nil once the Exchange is released.
func (self *Exchange) Keys() (pmk, ptk []byte) {
	self.mut.Lock()
	defer self.mut.Unlock()
	pmk = bytes.Clone(self.pmk)
	if nil != self.ptk {
		ptk = bytes.Clone(self.ptk.Bytes())
	}
	return pmk, ptk
}

// Destroy unregisters the Exchange and releases the creator reference.
// It is safe to call Destroy more than once.
func (self *Exchange) Destroy() {
	if !self.destroyed.CompareAndSwap(false, true) {
		return
	}
	self.mut.Lock()
	self.registered = false
	self.mut.Unlock()

	self.reg.remove(self)
	self.release()
}

// acquire adds a reference, it must be called while holding a reference or the Registry lock.
func (self *Exchange) acquire() {
	self.refs.Add(1)
}

// release drops a reference. Key material is cleared when the last reference goes.
// It must not be called while holding mut.
func (self *Exchange) release() {
	refs := self.refs.Add(-1)
	switch {
	case refs > 0:
		return
	case refs < 0:
		panic("exchange: reference count below zero")
	}

	self.mut.Lock()
	defer self.mut.Unlock()
	clear(self.pmk)
	self.pmk = nil
	if nil != self.ptk {
		self.ptk.Clear()
		self.ptk = nil
	}
	clear(self.gtk.Key)
	self.gtk = eapol.GTK{}
	self.log.Debug("exchange released")
}

// localAddr returns the address that frames are sent from.
func (self *Exchange) localAddr() link.Addr {
	if RoleSupplicant == self.role.kind() {
		return self.supplicant.Addr
	}
	return self.authenticator.Addr
}

// peer returns the Node frames are received from.
func (self *Exchange) peer() *Node {
	if RoleSupplicant == self.role.kind() {
		return &self.authenticator
	}
	return &self.supplicant
}

// send transmits frame to the peer, bypassing the link transmit queue.
func (self *Exchange) send(ctx context.Context, frame *eapol.KeyFrame) error {
	err := self.lnk.Send(
		ctx,
		self.localAddr(),
		self.peer().Addr,
		eapol.EtherType,
		frame.Bytes(),
		link.SendForce|link.SendUnencrypted,
	)
	if nil != err {
		return wrapError(err, "failed sending %s", frame.Message())
	}
	self.log.Debug("frame sent", "message", frame.Message(), "replay", frame.ReplayCounter)
	return nil
}

// derivePTK derives a PTK from the Exchange PMK, addresses & nonces.
func (self *Exchange) derivePTK(aNonce, sNonce []byte, tkSize int) (*kdf.PTK, error) {
	ptk, err := kdf.DerivePTK(
		self.pmk,
		self.authenticator.Addr[:],
		self.supplicant.Addr[:],
		aNonce,
		sNonce,
		tkSize,
	)
	return ptk, wrapError(err, "failed PTK derivation") // nil if err is nil
}

var (
	tagMessage1 = eapol.Message1.String()
	tagMessage2 = eapol.Message2.String()
	tagMessage3 = eapol.Message3.String()
	tagMessage4 = eapol.Message4.String()
)

func newEvent(frame *eapol.KeyFrame) fsm.Event {
	return fsm.Event{Tag: frame.Message().String(), Data: frame}
}

// hasRSN returns true if data starts with the rsn element.
func hasRSN(data, rsn []byte) bool {
	return len(data) >= len(rsn) && bytes.Equal(data[:len(rsn)], rsn)
}

// receive processes frame. src is nil if the frame source address is unknown.
//
// It returns the reason why frame was dropped, or nil if it was processed.
func (self *Exchange) receive(ctx context.Context, src *link.Addr, frame *eapol.KeyFrame) error {
	self.mut.Lock()
	err := self.process(ctx, src, frame)
	concluded := self.concluded
	var keys []link.Key
	var result error
	if concluded {
		keys, result = self.keysToInstall(), self.result
		// only the call that concluded the exchange finishes it
		self.concluded = false
	}
	self.mut.Unlock()

	if concluded {
		self.finish(ctx, keys, result)
	}
	return err
}

// process runs while holding mut.
func (self *Exchange) process(ctx context.Context, src *link.Addr, frame *eapol.KeyFrame) error {
	if !self.registered {
		return wrapError(ErrUnexpectedMessage, "exchange no longer registered")
	}
	if nil != src && *src != self.peer().Addr {
		return wrapError(ErrUnexpectedMessage, "frame from unexpected address %s", *src)
	}

	return self.role.update(ctx, frame)
}

// conclude marks the Exchange complete with status err and unregisters it.
// It runs while holding mut, the Registry entry is removed by finish.
func (self *Exchange) conclude(err error) State {
	self.registered = false
	self.concluded = true
	self.result = err
	return StateComplete
}

// keysToInstall returns copies of the keys that a successful Exchange installs.
// It runs while holding mut.
func (self *Exchange) keysToInstall() []link.Key {
	if nil != self.result || nil == self.ptk {
		return nil
	}
	keys := []link.Key{{
		Data:  bytes.Clone(self.ptk.TK()),
		Flags: link.KeyFlagCCMP | link.KeyFlagTransmit,
		Index: 0,
	}}
	if len(self.gtk.Key) > 0 {
		flags := link.KeyFlagCCMP | link.KeyFlagGlobal
		// the authenticator is the group key sender
		if self.gtk.Flags.Transmit() || RoleAuthenticator == self.role.kind() {
			flags |= link.KeyFlagTransmit
		}
		keys = append(keys, link.Key{
			Data:  bytes.Clone(self.gtk.Key),
			Flags: flags,
			Index: self.gtk.Flags.KeyID(),
		})
	}
	return keys
}

// finish removes the Exchange from its Registry, installs keys and calls the completion callback.
// It runs without holding mut.
func (self *Exchange) finish(ctx context.Context, keys []link.Key, result error) {
	self.reg.remove(self)

	for _, key := range keys {
		err := self.lnk.InstallKey(ctx, key)
		clear(key.Data)
		if nil != err && nil == result {
			result = wrapError(err, "failed installing %s key", key.Flags)
		}
	}

	if nil == result {
		self.log.Info("exchange succeeded", "keys", len(keys))
	} else {
		self.log.Warn("exchange failed", "error", result)
		self.mut.Lock()
		self.result = result
		self.mut.Unlock()
	}

	self.onComplete(self, result)
}
