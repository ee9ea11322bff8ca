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

// authenticator runs the access point side of the handshake.
// It opens the handshake with Message 1 and distributes the GTK in Message 3.
type authenticator struct {
	x      *Exchange
	state  State
	tkSize int
}

func (self *authenticator) State() State {
	return self.state
}

func (self *authenticator) SetState(s State) {
	self.state = s
}

func (self *authenticator) kind() Role {
	return RoleAuthenticator
}

// start sends Message 1.
func (self *authenticator) start(ctx context.Context) error {
	x := self.x
	msg1 := eapol.NewKeyFrame(
		eapol.NewKeyInfo(eapol.Message1, eapol.KeyVersionAESHMACSHA1),
		x.replayCounter+1,
	)
	msg1.KeyLength = uint16(self.tkSize)
	msg1.Nonce = x.authenticator.Nonce
	err := x.send(ctx, msg1)
	if nil != err {
		return err
	}

	x.replayCounter += 1
	self.state = StateAwaitingMessage2
	return nil
}

func (self *authenticator) update(ctx context.Context, frame *eapol.KeyFrame) error {
	x := self.x
	if frame.ReplayCounter != x.replayCounter {
		return wrapError(ErrReplay, "replay counter %d != %d", frame.ReplayCounter, x.replayCounter)
	}

	err := fsm.Update(ctx, self, authenticatorTransitions[:], newEvent(frame))
	if errors.Is(err, fsm.ErrNotAllowed) {
		return wrapError(ErrUnexpectedMessage, "%s dropped while %s", frame.Message(), self.state)
	}
	return err
}

// onMessage2 derives the PTK from the supplicant nonce, authenticates Message 2 and
// answers with Message 3.
func (self *authenticator) onMessage2(ctx context.Context, evt fsm.Event) (State, error) {
	x := self.x
	frame := evt.Data.(*eapol.KeyFrame)
	version := frame.Info.Version()
	if eapol.KeyVersionAESHMACSHA1 != version {
		return self.state, wrapError(ErrUnsupportedVersion, "message 2 uses %s", version)
	}

	sNonce := frame.Nonce
	ptk, err := x.derivePTK(x.authenticator.Nonce[:], sNonce[:], self.tkSize)
	if nil != err {
		return x.conclude(err), nil
	}
	if !eapol.ValidateMIC(version, ptk.KCK(), frame) {
		ptk.Clear()
		return self.state, wrapError(ErrInvalidMIC, "message 2 dropped")
	}
	if !bytes.Equal(frame.Data, x.supplicant.RSN) {
		ptk.Clear()
		x.log.Warn("supplicant RSN element differs from association")
		return x.conclude(wrapError(ErrRSNMismatch, "message 2 RSN element")), nil
	}

	msg3, err := self.newMessage3(ptk)
	if nil != err {
		ptk.Clear()
		return x.conclude(err), nil
	}
	err = x.send(ctx, msg3)
	if nil != err {
		ptk.Clear()
		return self.state, err
	}

	if nil != x.ptk {
		x.ptk.Clear()
	}
	x.ptk = ptk
	x.supplicant.Nonce = sNonce
	x.replayCounter = msg3.ReplayCounter

	return StateAwaitingMessage4, nil
}

// newMessage3 returns a signed Message 3 whose key data holds the authenticator RSN element
// followed by the GTK KDE.
func (self *authenticator) newMessage3(ptk *kdf.PTK) (*eapol.KeyFrame, error) {
	x := self.x
	plaintext := bytes.Clone(x.authenticator.RSN)
	if len(x.gtk.Key) > 0 {
		var err error
		plaintext, err = eapol.AppendGTK(plaintext, x.gtk)
		if nil != err {
			return nil, wrapError(err, "failed encoding GTK")
		}
	}
	padded := keywrap.Pad(plaintext)
	data, err := keywrap.Wrap(ptk.KEK(), padded)
	clear(plaintext)
	clear(padded)
	if nil != err {
		return nil, wrapError(err, "failed wrapping key data")
	}

	msg3 := eapol.NewKeyFrame(
		eapol.NewKeyInfo(eapol.Message3, eapol.KeyVersionAESHMACSHA1),
		x.replayCounter+1,
	)
	msg3.KeyLength = uint16(self.tkSize)
	msg3.Nonce = x.authenticator.Nonce
	msg3.Data = data
	err = eapol.ComputeMIC(eapol.KeyVersionAESHMACSHA1, ptk.KCK(), msg3)
	if nil != err {
		return nil, wrapError(err, "failed signing message 3")
	}

	return msg3, nil
}

// onMessage4 authenticates Message 4 and concludes the exchange.
func (self *authenticator) onMessage4(_ context.Context, evt fsm.Event) (State, error) {
	x := self.x
	frame := evt.Data.(*eapol.KeyFrame)
	if !eapol.ValidateMIC(frame.Info.Version(), x.ptk.KCK(), frame) {
		return self.state, wrapError(ErrInvalidMIC, "message 4 dropped")
	}

	return x.conclude(nil), nil
}

var authenticatorTransitions = [countState]fsm.Transition[State, *authenticator]{
	StateAwaitingMessage2: {
		Allow: []string{tagMessage2},
		Call:  (*authenticator).onMessage2,
		Exit:  []State{StateAwaitingMessage4, StateComplete},
	},
	StateAwaitingMessage4: {
		Allow: []string{tagMessage4},
		Call:  (*authenticator).onMessage4,
		Exit:  []State{StateComplete},
	},
}

var _ role = &authenticator{}
