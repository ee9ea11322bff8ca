package exchange

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/google/go-cmp/cmp"

	"code.wpakey.org/golang/internal/observability"
	"code.wpakey.org/golang/pkg/eapol"
	"code.wpakey.org/golang/pkg/eapol/kdf"
	"code.wpakey.org/golang/pkg/eapol/keywrap"
	"code.wpakey.org/golang/pkg/link"
	"code.wpakey.org/golang/pkg/psk"
)

var (
	testSSID       = "testnet"
	testPassphrase = []byte("testpassword")
	testSPA        = link.Addr{0x00, 0x13, 0x46, 0xFE, 0x32, 0x0C}
	testAA         = link.Addr{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}
	testSRSN       = []byte{
		0x30, 0x14, 0x01, 0x00, 0x00, 0x0F, 0xAC, 0x04, 0x01, 0x00, 0x00, 0x0F,
		0xAC, 0x04, 0x01, 0x00, 0x00, 0x0F, 0xAC, 0x02, 0x00, 0x00,
	}
	testARSN = []byte{
		0x30, 0x14, 0x01, 0x00, 0x00, 0x0F, 0xAC, 0x04, 0x01, 0x00, 0x00, 0x0F,
		0xAC, 0x04, 0x01, 0x00, 0x00, 0x0F, 0xAC, 0x02, 0x0C, 0x00,
	}
	testGTK = []byte{
		0xF0, 0xF1, 0xF2, 0xF3, 0xF4, 0xF5, 0xF6, 0xF7,
		0xF8, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD, 0xFE, 0xFF,
	}
)

// fakeLink records the frames & keys of an Exchange.
type fakeLink struct {
	id         link.ID
	mut        sync.Mutex
	frames     []link.Frame
	keys       []link.Key
	sendErr    error
	installErr error
}

func newFakeLink(id link.ID) *fakeLink {
	return &fakeLink{id: id}
}

func (self *fakeLink) ID() link.ID {
	return self.id
}

func (self *fakeLink) Send(_ context.Context, src, dst link.Addr, proto uint16, payload []byte, flags link.SendFlags) error {
	self.mut.Lock()
	defer self.mut.Unlock()
	if nil != self.sendErr {
		return self.sendErr
	}
	if eapol.EtherType != proto {
		return errors.New("unexpected protocol")
	}
	if 0 == flags&link.SendForce {
		return errors.New("handshake frames must be forced")
	}
	self.frames = append(self.frames, link.Frame{Src: src, Dst: dst, Payload: bytes.Clone(payload)})
	return nil
}

func (self *fakeLink) InstallKey(_ context.Context, key link.Key) error {
	self.mut.Lock()
	defer self.mut.Unlock()
	if nil != self.installErr {
		return self.installErr
	}
	key.Data = bytes.Clone(key.Data)
	self.keys = append(self.keys, key)
	return nil
}

// pop removes and returns the oldest frame sent on the link.
func (self *fakeLink) pop(t *testing.T) link.Frame {
	t.Helper()
	self.mut.Lock()
	defer self.mut.Unlock()
	if 0 == len(self.frames) {
		t.Fatalf("link %d did not send any frame", self.id)
	}
	rv := self.frames[0]
	self.frames = self.frames[1:]
	return rv
}

func (self *fakeLink) sent() int {
	self.mut.Lock()
	defer self.mut.Unlock()
	return len(self.frames)
}

func (self *fakeLink) installed() []link.Key {
	self.mut.Lock()
	defer self.mut.Unlock()
	return append([]link.Key(nil), self.keys...)
}

var _ link.Link = &fakeLink{}

// completion records OnComplete calls.
type completion struct {
	mut   sync.Mutex
	calls int
	err   error
}

func (self *completion) done(_ *Exchange, err error) {
	self.mut.Lock()
	defer self.mut.Unlock()
	self.calls += 1
	self.err = err
}

func (self *completion) check(t *testing.T, target error) {
	t.Helper()
	self.mut.Lock()
	defer self.mut.Unlock()
	if 1 != self.calls {
		t.Fatalf("OnComplete called %d times", self.calls)
	}
	switch {
	case nil == target && nil != self.err:
		t.Fatalf("exchange failed, got error %v", self.err)
	case nil != target && !errors.Is(self.err, target):
		t.Fatalf("exchange error %v does not match %v", self.err, target)
	}
}

func (self *completion) count() int {
	self.mut.Lock()
	defer self.mut.Unlock()
	return self.calls
}

func testParams(role Role, lnk link.Link, cpl *completion) Params {
	return Params{
		Link:              lnk,
		Role:              role,
		SupplicantAddr:    testSPA,
		AuthenticatorAddr: testAA,
		SSID:              testSSID,
		Passphrase:        testPassphrase,
		SupplicantRSN:     testSRSN,
		AuthenticatorRSN:  testARSN,
		OnComplete:        cpl.done,
	}
}

// pair runs a supplicant & an authenticator, each with its own Registry & link.
type pair struct {
	ctx   context.Context
	sReg  *Registry
	aReg  *Registry
	sLink *fakeLink
	aLink *fakeLink
	sX    *Exchange
	aX    *Exchange
	sCpl  *completion
	aCpl  *completion
}

// newPair creates both Exchanges, the authenticator sends Message 1.
// sMod & aMod may alter the supplicant & authenticator Params.
func newPair(t *testing.T, sMod, aMod func(*Params)) *pair {
	t.Helper()
	observability.SetTestDebugLogging(t)
	self := &pair{
		ctx:   context.Background(),
		sReg:  NewRegistry(),
		aReg:  NewRegistry(),
		sLink: newFakeLink(1),
		aLink: newFakeLink(2),
		sCpl:  &completion{},
		aCpl:  &completion{},
	}

	store := psk.NewMemStore()
	sParams := testParams(RoleSupplicant, self.sLink, self.sCpl)
	sParams.PSKStore = store
	if nil != sMod {
		sMod(&sParams)
	}
	aParams := testParams(RoleAuthenticator, self.aLink, self.aCpl)
	aParams.PSKStore = store
	if nil != aMod {
		aMod(&aParams)
	}

	var err error
	self.sX, err = self.sReg.Create(self.ctx, sParams)
	if nil != err {
		t.Fatalf("failed creating supplicant, got error %v", err)
	}
	t.Cleanup(self.sX.Destroy)
	self.aX, err = self.aReg.Create(self.ctx, aParams)
	if nil != err {
		t.Fatalf("failed creating authenticator, got error %v", err)
	}
	t.Cleanup(self.aX.Destroy)

	return self
}

// toSupplicant relays the next authenticator frame.
func (self *pair) toSupplicant(t *testing.T) error {
	t.Helper()
	frame := self.aLink.pop(t)
	if testSPA != frame.Dst {
		t.Fatalf("authenticator frame sent to %s", frame.Dst)
	}
	return self.sReg.Receive(self.ctx, self.sLink.ID(), frame.Payload)
}

// toAuthenticator relays the next supplicant frame.
func (self *pair) toAuthenticator(t *testing.T) error {
	t.Helper()
	frame := self.sLink.pop(t)
	if testAA != frame.Dst {
		t.Fatalf("supplicant frame sent to %s", frame.Dst)
	}
	return self.aReg.Receive(self.ctx, self.aLink.ID(), frame.Payload)
}

func (self *pair) run(t *testing.T) {
	t.Helper()
	relays := []func(*testing.T) error{
		self.toSupplicant,
		self.toAuthenticator,
		self.toSupplicant,
		self.toAuthenticator,
	}
	for i, relay := range relays {
		err := relay(t)
		if nil != err {
			t.Fatalf("failed relaying message %d, got error %v", i+1, err)
		}
	}
}

func TestHandshake(t *testing.T) {
	testcases := []struct {
		name   string
		aMod   func(*Params)
		sKeys  []link.Key
		tkSize int
	}{
		{
			name:   "pairwise only",
			tkSize: DefaultTKSize,
		},
		{
			name: "with GTK",
			aMod: func(p *Params) {
				p.GTK = testGTK
				p.GTKIndex = 1
			},
			sKeys:  []link.Key{{Data: testGTK, Flags: link.KeyFlagCCMP | link.KeyFlagGlobal, Index: 1}},
			tkSize: DefaultTKSize,
		},
		{
			name:   "32 bytes TK",
			aMod:   func(p *Params) { p.TKSize = 32 },
			tkSize: 32,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPair(t, nil, tc.aMod)
			p.run(t)

			p.sCpl.check(t, nil)
			p.aCpl.check(t, nil)
			if StateComplete != p.sX.State() || StateComplete != p.aX.State() {
				t.Fatalf("exchange not complete, states %s & %s", p.sX.State(), p.aX.State())
			}
			if 0 != p.sReg.Len() || 0 != p.aReg.Len() {
				t.Errorf("exchange still registered after completion")
			}

			sKeys := p.sLink.installed()
			aKeys := p.aLink.installed()
			if 1+len(tc.sKeys) != len(sKeys) || len(sKeys) != len(aKeys) {
				t.Fatalf("unexpected key count, got %d & %d", len(sKeys), len(aKeys))
			}
			tk := sKeys[0]
			if tc.tkSize != len(tk.Data) || link.KeyFlagCCMP|link.KeyFlagTransmit != tk.Flags || 0 != tk.Index {
				t.Errorf("invalid pairwise key %+v", tk)
			}
			if !bytes.Equal(tk.Data, aKeys[0].Data) {
				t.Errorf("supplicant & authenticator pairwise keys differ")
			}
			if diff := cmp.Diff(tc.sKeys, sKeys[1:], cmpEmpty); "" != diff {
				t.Errorf("supplicant group keys mismatch (-want +got):\n%s", diff)
			}
			for _, gk := range aKeys[1:] {
				if 0 == gk.Flags&link.KeyFlagTransmit || 0 == gk.Flags&link.KeyFlagGlobal {
					t.Errorf("authenticator group key flags %s", gk.Flags)
				}
			}

			_, sPTK := p.sX.Keys()
			_, aPTK := p.aX.Keys()
			if !bytes.Equal(sPTK, aPTK) {
				t.Errorf("supplicant & authenticator PTK differ")
			}
		})
	}
}

// cmpEmpty equates nil & empty slices.
var cmpEmpty = cmp.FilterValues(
	func(x, y []link.Key) bool { return 0 == len(x) && 0 == len(y) },
	cmp.Ignore(),
)

// TestSupplicantScenario drives a supplicant with hand crafted authenticator frames.
func TestSupplicantScenario(t *testing.T) {
	observability.SetTestDebugLogging(t)
	ctx := context.Background()
	reg := NewRegistry()
	lnk := newFakeLink(7)
	cpl := &completion{}
	x, err := reg.Create(ctx, testParams(RoleSupplicant, lnk, cpl))
	if nil != err {
		t.Fatalf("failed Create, got error %v", err)
	}
	defer x.Destroy()
	if 0 != lnk.sent() {
		t.Fatalf("supplicant sent %d frames on creation", lnk.sent())
	}

	var aNonce [kdf.NonceSize]byte
	for i := range aNonce {
		aNonce[i] = byte(i)
	}
	err = reg.Receive(ctx, lnk.ID(), newMessage1(1, aNonce, 16))
	if nil != err {
		t.Fatalf("failed processing message 1, got error %v", err)
	}

	msg2, err := eapol.Parse(lnk.pop(t).Payload)
	if nil != err {
		t.Fatalf("failed parsing message 2, got error %v", err)
	}
	sNode, _ := x.Nodes()
	switch {
	case eapol.Message2 != msg2.Message():
		t.Fatalf("supplicant sent %s", msg2.Message())
	case 1 != msg2.ReplayCounter:
		t.Errorf("message 2 replay counter %d", msg2.ReplayCounter)
	case sNode.Nonce != msg2.Nonce:
		t.Errorf("message 2 does not carry the supplicant nonce")
	case !bytes.Equal(testSRSN, msg2.Data):
		t.Errorf("message 2 does not carry the supplicant RSN")
	case 0 != msg2.KeyLength:
		t.Errorf("message 2 key length %d", msg2.KeyLength)
	}

	pmk, err := kdf.PSK(string(testPassphrase), testSSID)
	if nil != err {
		t.Fatalf("failed PSK, got error %v", err)
	}
	ptk, err := kdf.DerivePTK(pmk, testAA[:], testSPA[:], aNonce[:], msg2.Nonce[:], 16)
	if nil != err {
		t.Fatalf("failed DerivePTK, got error %v", err)
	}
	if !eapol.ValidateMIC(eapol.KeyVersionAESHMACSHA1, ptk.KCK(), msg2) {
		t.Fatalf("invalid message 2 MIC")
	}

	err = reg.Receive(ctx, lnk.ID(), newMessage3(t, ptk, 2, aNonce, testARSN))
	if nil != err {
		t.Fatalf("failed processing message 3, got error %v", err)
	}

	msg4, err := eapol.Parse(lnk.pop(t).Payload)
	if nil != err {
		t.Fatalf("failed parsing message 4, got error %v", err)
	}
	switch {
	case eapol.Message4 != msg4.Message():
		t.Fatalf("supplicant sent %s", msg4.Message())
	case !msg4.Info.IsSet(eapol.KeyInfoSecure):
		t.Errorf("message 4 secure flag not set")
	case 2 != msg4.ReplayCounter:
		t.Errorf("message 4 replay counter %d", msg4.ReplayCounter)
	case 0 != len(msg4.Data):
		t.Errorf("message 4 carries key data")
	case !eapol.ValidateMIC(eapol.KeyVersionAESHMACSHA1, ptk.KCK(), msg4):
		t.Errorf("invalid message 4 MIC")
	}

	cpl.check(t, nil)
	keys := lnk.installed()
	if 1 != len(keys) {
		t.Fatalf("installed %d keys", len(keys))
	}
	if !bytes.Equal(ptk.TK(), keys[0].Data) || 16 != len(keys[0].Data) {
		t.Errorf("installed key does not match the PTK TK")
	}

	// completed exchanges are no longer registered
	err = reg.Receive(ctx, lnk.ID(), newMessage3(t, ptk, 3, aNonce, testARSN))
	if !errors.Is(err, ErrUnknownLink) {
		t.Errorf("frame processed after completion, got error %v", err)
	}
	if 1 != cpl.count() {
		t.Errorf("OnComplete called %d times", cpl.count())
	}
}

func newMessage1(replay uint64, aNonce [kdf.NonceSize]byte, tkSize int) []byte {
	msg1 := eapol.NewKeyFrame(eapol.NewKeyInfo(eapol.Message1, eapol.KeyVersionAESHMACSHA1), replay)
	msg1.KeyLength = uint16(tkSize)
	msg1.Nonce = aNonce
	return msg1.Bytes()
}

func newMessage3(t *testing.T, ptk *kdf.PTK, replay uint64, aNonce [kdf.NonceSize]byte, plaintext []byte) []byte {
	t.Helper()
	data, err := keywrap.Wrap(ptk.KEK(), keywrap.Pad(bytes.Clone(plaintext)))
	if nil != err {
		t.Fatalf("failed Wrap, got error %v", err)
	}
	msg3 := eapol.NewKeyFrame(eapol.NewKeyInfo(eapol.Message3, eapol.KeyVersionAESHMACSHA1), replay)
	msg3.KeyLength = uint16(len(ptk.TK()))
	msg3.Nonce = aNonce
	msg3.Data = data
	err = eapol.ComputeMIC(eapol.KeyVersionAESHMACSHA1, ptk.KCK(), msg3)
	if nil != err {
		t.Fatalf("failed ComputeMIC, got error %v", err)
	}
	return msg3.Bytes()
}

func TestSupplicantRSNMismatch(t *testing.T) {
	p := newPair(t, func(sp *Params) { sp.AuthenticatorRSN = testSRSN }, nil)
	mustRelay(t, p.toSupplicant)
	mustRelay(t, p.toAuthenticator)
	mustRelay(t, p.toSupplicant)

	p.sCpl.check(t, ErrRSNMismatch)
	if 0 != len(p.sLink.installed()) {
		t.Errorf("keys installed after failure")
	}
	if 0 != p.sLink.sent() {
		t.Errorf("message 4 sent after failure")
	}
	if 0 != p.aCpl.count() {
		t.Errorf("authenticator completed")
	}
}

func TestAuthenticatorRSNMismatch(t *testing.T) {
	p := newPair(t, nil, func(ap *Params) { ap.SupplicantRSN = testARSN })
	mustRelay(t, p.toSupplicant)
	mustRelay(t, p.toAuthenticator)

	p.aCpl.check(t, ErrRSNMismatch)
	if 0 != len(p.aLink.installed()) || 0 != p.aLink.sent() {
		t.Errorf("authenticator went on after failure")
	}
	if 0 != p.aReg.Len() {
		t.Errorf("failed exchange still registered")
	}
}

func TestInvalidMIC(t *testing.T) {
	p := newPair(t, nil, nil)
	mustRelay(t, p.toSupplicant)

	frame := p.sLink.pop(t)
	tampered := bytes.Clone(frame.Payload)
	tampered[81] ^= 0x01
	err := p.aReg.Receive(p.ctx, p.aLink.ID(), tampered)
	if !errors.Is(err, ErrInvalidMIC) {
		t.Fatalf("tampered message 2 not dropped, got error %v", err)
	}
	if StateAwaitingMessage2 != p.aX.State() {
		t.Fatalf("authenticator state changed to %s", p.aX.State())
	}

	err = p.aReg.Receive(p.ctx, p.aLink.ID(), frame.Payload)
	if nil != err {
		t.Fatalf("failed processing message 2, got error %v", err)
	}
	mustRelay(t, p.toSupplicant)
	mustRelay(t, p.toAuthenticator)
	p.sCpl.check(t, nil)
	p.aCpl.check(t, nil)
}

func TestAuthenticatorReplay(t *testing.T) {
	p := newPair(t, nil, nil)
	mustRelay(t, p.toSupplicant)

	frame := p.sLink.pop(t)
	msg2, err := eapol.Parse(frame.Payload)
	if nil != err {
		t.Fatalf("failed parsing message 2, got error %v", err)
	}
	msg2.ReplayCounter += 1
	err = p.aReg.Receive(p.ctx, p.aLink.ID(), msg2.Bytes())
	if !errors.Is(err, ErrReplay) {
		t.Fatalf("message 2 with stale replay counter not dropped, got error %v", err)
	}

	err = p.aReg.Receive(p.ctx, p.aLink.ID(), frame.Payload)
	if nil != err {
		t.Fatalf("failed processing message 2, got error %v", err)
	}
	// replayed message 2
	err = p.aReg.Receive(p.ctx, p.aLink.ID(), frame.Payload)
	if !errors.Is(err, ErrReplay) {
		t.Fatalf("replayed message 2 not dropped, got error %v", err)
	}
}

func TestSupplicantDrops(t *testing.T) {
	p := newPair(t, nil, nil)

	// message 3 before message 1
	msg1 := p.aLink.pop(t)
	m1, err := eapol.Parse(msg1.Payload)
	if nil != err {
		t.Fatalf("failed parsing message 1, got error %v", err)
	}
	m1.Info = eapol.NewKeyInfo(eapol.Message3, eapol.KeyVersionAESHMACSHA1)
	err = p.sReg.Receive(p.ctx, p.sLink.ID(), m1.Bytes())
	if !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("early message 3 not dropped, got error %v", err)
	}

	err = p.sReg.Receive(p.ctx, p.sLink.ID(), []byte{2, 3, 0, 1, 0})
	if !errors.Is(err, eapol.ErrMalformed) {
		t.Fatalf("truncated frame not dropped, got error %v", err)
	}

	for _, keyLength := range []uint16{0, 64} {
		bad, err := eapol.Parse(msg1.Payload)
		if nil != err {
			t.Fatalf("failed parsing message 1, got error %v", err)
		}
		bad.KeyLength = keyLength
		err = p.sReg.Receive(p.ctx, p.sLink.ID(), bad.Bytes())
		if !errors.Is(err, eapol.ErrMalformed) {
			t.Fatalf("message 1 with key length %d not dropped, got error %v", keyLength, err)
		}
		if StateAwaitingMessage1 != p.sX.State() || 0 != p.sCpl.count() {
			t.Fatalf("key length %d changed supplicant to %s", keyLength, p.sX.State())
		}
	}
	if 0 != p.sLink.sent() {
		t.Fatalf("supplicant answered a dropped message 1")
	}

	err = p.sReg.Receive(p.ctx, p.sLink.ID(), msg1.Payload)
	if nil != err {
		t.Fatalf("failed processing message 1, got error %v", err)
	}
	mustRelay(t, p.toAuthenticator)

	frame := p.aLink.pop(t)
	msg3, err := eapol.Parse(frame.Payload)
	if nil != err {
		t.Fatalf("failed parsing message 3, got error %v", err)
	}

	testcases := []struct {
		name   string
		mod    func(f *eapol.KeyFrame)
		target error
	}{
		{
			name:   "nonce",
			mod:    func(f *eapol.KeyFrame) { f.Nonce[0] ^= 0xFF },
			target: ErrNonceMismatch,
		},
		{
			name:   "version",
			mod:    func(f *eapol.KeyFrame) { f.Info = eapol.NewKeyInfo(eapol.Message3, eapol.KeyVersionAESCMAC) },
			target: ErrUnsupportedVersion,
		},
		{
			name:   "no key data",
			mod:    func(f *eapol.KeyFrame) { f.Data = nil },
			target: eapol.ErrMalformed,
		},
		{
			name:   "key data integrity",
			mod:    func(f *eapol.KeyFrame) { f.Data[3] ^= 0x01 },
			target: keywrap.ErrUnwrapAuth,
		},
		{
			name:   "MIC",
			mod:    func(f *eapol.KeyFrame) { f.MIC[0] ^= 0x01 },
			target: ErrInvalidMIC,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := eapol.Parse(frame.Payload)
			if nil != err {
				t.Fatalf("failed parsing message 3, got error %v", err)
			}
			tc.mod(f)
			err = p.sReg.Receive(p.ctx, p.sLink.ID(), f.Bytes())
			if !errors.Is(err, tc.target) {
				t.Fatalf("tampered message 3 not dropped with %v, got error %v", tc.target, err)
			}
			if StateAwaitingMessage3 != p.sX.State() {
				t.Fatalf("supplicant state changed to %s", p.sX.State())
			}
		})
	}

	err = p.sReg.Receive(p.ctx, p.sLink.ID(), msg3.Bytes())
	if nil != err {
		t.Fatalf("failed processing message 3, got error %v", err)
	}
	p.sCpl.check(t, nil)
}

func TestSupplicantUnsupportedVersion(t *testing.T) {
	observability.SetTestDebugLogging(t)
	ctx := context.Background()
	reg := NewRegistry()
	lnk := newFakeLink(3)
	cpl := &completion{}
	x, err := reg.Create(ctx, testParams(RoleSupplicant, lnk, cpl))
	if nil != err {
		t.Fatalf("failed Create, got error %v", err)
	}
	defer x.Destroy()

	msg1 := eapol.NewKeyFrame(eapol.NewKeyInfo(eapol.Message1, eapol.KeyVersionRC4HMACMD5), 1)
	msg1.KeyLength = 16
	err = reg.Receive(ctx, lnk.ID(), msg1.Bytes())
	if nil != err {
		t.Fatalf("failed processing message 1, got error %v", err)
	}
	cpl.check(t, ErrUnsupportedVersion)
	if 0 != lnk.sent() || 0 != len(lnk.installed()) {
		t.Errorf("supplicant went on with an unsupported version")
	}
}

func TestMessage1RateLimit(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		reg := NewRegistry()
		lnk := newFakeLink(4)
		cpl := &completion{}
		x, err := reg.Create(ctx, testParams(RoleSupplicant, lnk, cpl))
		if nil != err {
			t.Fatalf("failed Create, got error %v", err)
		}
		defer x.Destroy()

		var aNonce [kdf.NonceSize]byte
		burst := DefaultLimits().Message1Burst
		for i := range burst {
			aNonce[0] = byte(i)
			err = reg.Receive(ctx, lnk.ID(), newMessage1(1, aNonce, 16))
			if nil != err {
				t.Fatalf("failed processing message 1 #%d, got error %v", i, err)
			}
		}
		_, ptk := x.Keys()

		err = reg.Receive(ctx, lnk.ID(), newMessage1(1, aNonce, 16))
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("message 1 not rate limited, got error %v", err)
		}
		if _, cur := x.Keys(); !bytes.Equal(ptk, cur) {
			t.Fatalf("rate limited message 1 changed the PTK")
		}
		if burst != lnk.sent() {
			t.Fatalf("supplicant sent %d frames", lnk.sent())
		}

		time.Sleep(DefaultLimits().Message1Every)
		err = reg.Receive(ctx, lnk.ID(), newMessage1(1, aNonce, 16))
		if nil != err {
			t.Fatalf("failed processing message 1 after pause, got error %v", err)
		}
		if StateAwaitingMessage3 != x.State() {
			t.Errorf("supplicant state %s", x.State())
		}
		if 0 != cpl.count() {
			t.Errorf("exchange completed")
		}
	})
}

func TestCreateDestroy(t *testing.T) {
	observability.SetTestDebugLogging(t)
	ctx := context.Background()
	reg := NewRegistry()
	lnk := newFakeLink(5)
	cpl := &completion{}

	x, err := reg.Create(ctx, testParams(RoleAuthenticator, lnk, cpl))
	if nil != err {
		t.Fatalf("failed Create, got error %v", err)
	}
	if 1 != lnk.sent() {
		t.Fatalf("authenticator sent %d frames", lnk.sent())
	}
	if 1 != reg.Len() {
		t.Fatalf("registry holds %d exchanges", reg.Len())
	}

	_, err = reg.Create(ctx, testParams(RoleSupplicant, lnk, cpl))
	if !errors.Is(err, ErrLinkBusy) {
		t.Fatalf("second exchange created on link, got error %v", err)
	}

	held, release, found := reg.Lookup(lnk.ID())
	if !found || held != x {
		t.Fatalf("failed Lookup")
	}
	x.Destroy()
	x.Destroy()
	if 0 != reg.Len() {
		t.Fatalf("destroyed exchange still registered")
	}
	if pmk, _ := x.Keys(); 0 == len(pmk) {
		t.Fatalf("PMK released while a reference is held")
	}
	release()
	if pmk, _ := x.Keys(); 0 != len(pmk) {
		t.Fatalf("PMK not released")
	}

	err = reg.Receive(ctx, lnk.ID(), lnk.pop(t).Payload)
	if !errors.Is(err, ErrUnknownLink) {
		t.Fatalf("frame processed after Destroy, got error %v", err)
	}
	if 0 != cpl.count() {
		t.Errorf("OnComplete called after Destroy")
	}

	x, err = reg.Create(ctx, testParams(RoleSupplicant, lnk, cpl))
	if nil != err {
		t.Fatalf("failed Create after Destroy, got error %v", err)
	}
	x.Destroy()
}

func TestCreateSendFailure(t *testing.T) {
	observability.SetTestDebugLogging(t)
	reg := NewRegistry()
	lnk := newFakeLink(6)
	lnk.sendErr = link.ErrPaused
	_, err := reg.Create(context.Background(), testParams(RoleAuthenticator, lnk, &completion{}))
	if !errors.Is(err, link.ErrPaused) {
		t.Fatalf("Create did not fail, got error %v", err)
	}
	if 0 != reg.Len() {
		t.Fatalf("failed exchange still registered")
	}
}

func TestInstallKeyFailure(t *testing.T) {
	p := newPair(t, nil, nil)
	p.sLink.installErr = errors.New("no key slot")
	p.run(t)

	p.sCpl.check(t, Error)
	p.aCpl.check(t, nil)
	if nil == p.sX.Err() {
		t.Errorf("supplicant Err() is nil")
	}
}

func TestDeliver(t *testing.T) {
	p := newPair(t, nil, nil)

	frame := p.aLink.pop(t)
	spoofed := frame
	spoofed.Src = link.Addr{0x02, 0, 0, 0, 0, 0x01}
	p.sReg.Deliver(p.ctx, p.sLink.ID(), spoofed)
	if 0 != p.sLink.sent() {
		t.Fatalf("supplicant answered a spoofed frame")
	}

	p.sReg.Deliver(p.ctx, p.sLink.ID(), frame)
	if 1 != p.sLink.sent() {
		t.Fatalf("supplicant did not answer message 1")
	}
}

func TestParamsCheck(t *testing.T) {
	cpl := &completion{}
	testcases := []struct {
		name string
		mod  func(*Params)
	}{
		{name: "nil link", mod: func(p *Params) { p.Link = nil }},
		{name: "nil callback", mod: func(p *Params) { p.OnComplete = nil }},
		{name: "invalid role", mod: func(p *Params) { p.Role = Role(9) }},
		{name: "empty ssid", mod: func(p *Params) { p.SSID = "" }},
		{name: "long ssid", mod: func(p *Params) { p.SSID = string(make([]byte, 33)) }},
		{name: "empty passphrase", mod: func(p *Params) { p.Passphrase = nil }},
		{name: "no supplicant RSN", mod: func(p *Params) { p.SupplicantRSN = nil }},
		{name: "no authenticator RSN", mod: func(p *Params) { p.AuthenticatorRSN = nil }},
		{name: "same address", mod: func(p *Params) { p.AuthenticatorAddr = p.SupplicantAddr }},
		{name: "TK size", mod: func(p *Params) { p.TKSize = 33 }},
		{name: "GTK size", mod: func(p *Params) { p.GTK = testGTK[:5] }},
		{name: "GTK index", mod: func(p *Params) { p.GTK = testGTK; p.GTKIndex = 4 }},
		{name: "limits", mod: func(p *Params) { p.Limits = Limits{Message1Burst: 1} }},
	}

	valid := testParams(RoleAuthenticator, newFakeLink(1), cpl)
	if err := valid.Check(); nil != err {
		t.Fatalf("failed Check, got error %v", err)
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			params := testParams(RoleAuthenticator, newFakeLink(1), cpl)
			tc.mod(&params)
			err := params.Check()
			if !errors.Is(err, Error) {
				t.Fatalf("invalid params passed Check, got error %v", err)
			}
		})
	}
}

func mustRelay(t *testing.T, relay func(*testing.T) error) {
	t.Helper()
	err := relay(t)
	if nil != err {
		t.Fatalf("failed relay, got error %v", err)
	}
}
