package exchange

import (
	"bytes"
	"context"
	"errors"

	"code.wpakey.org/golang/internal/fsm"
	"code.wpakey.org/golang/pkg/eapol"
	"code.wpakey.org/golang/pkg/eapol/kdf"
	"code.wpakey.org/golang/pkg/eapol/keywrap"
)

// supplicant runs the station side of the handshake.
type supplicant struct {
	x          *Exchange
	state      State
	keyVersion eapol.KeyVersion
}

func (self *supplicant) State() State {
	return self.state
}

func (self *supplicant) SetState(s State) {
	self.state = s
}

func (self *supplicant) kind() Role {
	return RoleSupplicant
}

// start has nothing to send, the authenticator opens the handshake.
func (self *supplicant) start(_ context.Context) error {
	self.state = StateAwaitingMessage1
	return nil
}

func (self *supplicant) update(ctx context.Context, frame *eapol.KeyFrame) error {
	x := self.x
	if x.replayValid && frame.ReplayCounter <= x.replayCounter {
		return wrapError(ErrReplay, "replay counter %d <= %d", frame.ReplayCounter, x.replayCounter)
	}

	err := fsm.Update(ctx, self, supplicantTransitions[:], newEvent(frame))
	if errors.Is(err, fsm.ErrNotAllowed) {
		return wrapError(ErrUnexpectedMessage, "%s dropped while %s", frame.Message(), self.state)
	}
	return err
}

func (self *supplicant) onMessage(ctx context.Context, evt fsm.Event) (State, error) {
	frame := evt.Data.(*eapol.KeyFrame)
	if eapol.Message3 == frame.Message() {
		return self.onMessage3(ctx, frame)
	}
	return self.onMessage1(ctx, frame)
}

// onMessage1 derives a PTK from the authenticator nonce and answers with Message 2.
// Repeated Message 1 frames regenerate the PTK, the supplicant nonce is kept.
func (self *supplicant) onMessage1(ctx context.Context, frame *eapol.KeyFrame) (State, error) {
	x := self.x
	if !x.limiter.Allow() {
		return self.state, wrapError(ErrRateLimited, "message 1 dropped")
	}

	tkSize := int(frame.KeyLength)
	if tkSize < 1 || tkSize > kdf.MaxTKSize {
		return self.state, wrapError(eapol.ErrMalformed, "message 1 key length %d out of [1, %d]", tkSize, kdf.MaxTKSize)
	}

	version := frame.Info.Version()
	if eapol.KeyVersionAESHMACSHA1 != version {
		x.log.Error("unsupported key descriptor version", "version", version)
		return x.conclude(wrapError(ErrUnsupportedVersion, "peer selected %s", version)), nil
	}

	aNonce := frame.Nonce
	ptk, err := x.derivePTK(aNonce[:], x.supplicant.Nonce[:], tkSize)
	if nil != err {
		return x.conclude(err), nil
	}

	msg2 := eapol.NewKeyFrame(eapol.NewKeyInfo(eapol.Message2, version), frame.ReplayCounter)
	msg2.Nonce = x.supplicant.Nonce
	msg2.Data = bytes.Clone(x.supplicant.RSN)
	err = eapol.ComputeMIC(version, ptk.KCK(), msg2)
	if nil != err {
		ptk.Clear()
		return x.conclude(wrapError(err, "failed signing message 2")), nil
	}
	err = x.send(ctx, msg2)
	if nil != err {
		ptk.Clear()
		return self.state, err
	}

	if nil != x.ptk {
		x.ptk.Clear()
	}
	x.ptk = ptk
	x.authenticator.Nonce = aNonce
	self.keyVersion = version

	return StateAwaitingMessage3, nil
}

// onMessage3 authenticates the key data & MIC of Message 3, acknowledges it with Message 4
// and concludes the exchange.
func (self *supplicant) onMessage3(ctx context.Context, frame *eapol.KeyFrame) (State, error) {
	x := self.x
	version := frame.Info.Version()
	switch {
	case self.keyVersion != version:
		return self.state, wrapError(ErrUnsupportedVersion, "message 3 uses %s, expected %s", version, self.keyVersion)
	case x.authenticator.Nonce != frame.Nonce:
		return self.state, wrapError(ErrNonceMismatch, "message 3 nonce differs from message 1")
	case 0 == len(frame.Data):
		return self.state, wrapError(eapol.ErrMalformed, "message 3 without key data")
	}

	data, err := keywrap.Unwrap(x.ptk.KEK(), frame.Data)
	if nil != err {
		return self.state, wrapError(err, "failed unwrapping message 3 key data")
	}
	defer clear(data)

	rsn := x.authenticator.RSN
	if !hasRSN(data, rsn) {
		x.log.Warn("authenticator RSN element differs from association")
		return x.conclude(wrapError(ErrRSNMismatch, "message 3 RSN element")), nil
	}

	if !eapol.ValidateMIC(version, x.ptk.KCK(), frame) {
		return self.state, wrapError(ErrInvalidMIC, "message 3 dropped")
	}

	gtk := self.parseGTK(data[len(rsn):])

	msg4 := eapol.NewKeyFrame(eapol.NewKeyInfo(eapol.Message4, version), frame.ReplayCounter)
	err = eapol.ComputeMIC(version, x.ptk.KCK(), msg4)
	if nil != err {
		return x.conclude(wrapError(err, "failed signing message 4")), nil
	}
	err = x.send(ctx, msg4)
	if nil != err {
		return self.state, err
	}

	x.replayCounter = frame.ReplayCounter
	x.replayValid = true
	x.gtk = gtk

	return x.conclude(nil), nil
}

// parseGTK returns the GTK carried by the KDE at the start of data.
// It returns a zero GTK if there is none or if its size does not match the TK size.
func (self *supplicant) parseGTK(data []byte) eapol.GTK {
	var rv eapol.GTK
	if 0 == len(data) || eapol.KDEType != data[0] {
		return rv
	}
	kde, _, err := eapol.ParseKDE(data)
	if nil != err || eapol.SelectorGTK != kde.Selector {
		return rv
	}
	gtk, err := eapol.ParseGTK(kde)
	if nil != err {
		self.x.log.Debug("ignoring GTK", "error", err)
		return rv
	}
	if len(gtk.Key) != len(self.x.ptk.TK()) {
		self.x.log.Debug("ignoring GTK", "size", len(gtk.Key))
		return rv
	}
	return gtk
}

var supplicantTransitions = [countState]fsm.Transition[State, *supplicant]{
	StateAwaitingMessage1: {
		Allow: []string{tagMessage1},
		Call:  (*supplicant).onMessage,
		Exit:  []State{StateAwaitingMessage3, StateComplete},
	},
	StateAwaitingMessage3: {
		Allow: []string{tagMessage1, tagMessage3},
		Call:  (*supplicant).onMessage,
		Exit:  []State{StateAwaitingMessage3, StateComplete},
	},
}

var _ role = &supplicant{}
