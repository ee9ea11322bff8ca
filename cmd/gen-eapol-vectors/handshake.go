package main

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"sync"

	"code.wpakey.org/golang/internal/observability"
	"code.wpakey.org/golang/pkg/eapol"
	"code.wpakey.org/golang/pkg/eapol/exchange"
	"code.wpakey.org/golang/pkg/link"
)

var rng *rand.ChaCha8 // see init at the bottom of this file

// Vectors are recorded by running a supplicant & an authenticator that exchange frames
// through recLinks.

// recLink keeps the frames sent on a link until they are relayed.
type recLink struct {
	id     link.ID
	mut    sync.Mutex
	frames [][]byte
}

func (self *recLink) ID() link.ID {
	return self.id
}

func (self *recLink) Send(_ context.Context, _, _ link.Addr, proto uint16, payload []byte, _ link.SendFlags) error {
	if eapol.EtherType != proto {
		return fmt.Errorf("unexpected protocol %#04x", proto)
	}
	self.mut.Lock()
	defer self.mut.Unlock()
	self.frames = append(self.frames, append([]byte(nil), payload...))
	return nil
}

func (self *recLink) InstallKey(_ context.Context, _ link.Key) error {
	return nil
}

func (self *recLink) pop() ([]byte, error) {
	self.mut.Lock()
	defer self.mut.Unlock()
	if 0 == len(self.frames) {
		return nil, fmt.Errorf("link %d did not send any frame", self.id)
	}
	rv := self.frames[0]
	self.frames = self.frames[1:]
	return rv, nil
}

func fillVector(ssid string, vect *exchange.TestVector) error {
	if nil == vect {
		return fmt.Errorf("nil vect")
	}
	ctx := observability.WithLogger(context.Background(), observability.NoopLogger())

	passphrase := randomPassphrase()
	spa, aa := randomAddr(), randomAddr()
	gtk := make([]byte, exchange.DefaultTKSize)
	rng.Read(gtk) // rng.Read can not fail
	gtkIndex := 1 + rng.Uint64()%3

	var errs [2]error
	var done sync.WaitGroup
	done.Add(2)
	sLink, aLink := &recLink{id: 1}, &recLink{id: 2}
	params := exchange.Params{
		SupplicantAddr:    spa,
		AuthenticatorAddr: aa,
		SSID:              ssid,
		Passphrase:        []byte(passphrase),
		SupplicantRSN:     rsnElement(0),
		AuthenticatorRSN:  rsnElement(0x0C),
		GTK:               gtk,
		GTKIndex:          int(gtkIndex),
	}

	sReg, aReg := exchange.NewRegistry(), exchange.NewRegistry()
	sParams := params
	sParams.Link = sLink
	sParams.Role = exchange.RoleSupplicant
	sParams.GTK = nil
	sParams.OnComplete = func(_ *exchange.Exchange, err error) { errs[0] = err; done.Done() }
	sx, err := sReg.Create(ctx, sParams)
	if nil != err {
		return fmt.Errorf("Failed creating supplicant, got error %w", err)
	}
	defer sx.Destroy()

	aParams := params
	aParams.Link = aLink
	aParams.Role = exchange.RoleAuthenticator
	aParams.OnComplete = func(_ *exchange.Exchange, err error) { errs[1] = err; done.Done() }
	ax, err := aReg.Create(ctx, aParams)
	if nil != err {
		return fmt.Errorf("Failed creating authenticator, got error %w", err)
	}
	defer ax.Destroy()

	// relay the 4 messages
	var messages [4][]byte
	for i := range messages {
		src, dst, dstReg := aLink, sLink, sReg
		if 1 == i%2 {
			src, dst, dstReg = sLink, aLink, aReg
		}
		messages[i], err = src.pop()
		if nil != err {
			return err
		}
		err = dstReg.Receive(ctx, dst.ID(), messages[i])
		if nil != err {
			return fmt.Errorf("Failed processing message %d, got error %w", i+1, err)
		}
	}
	done.Wait()
	for _, err := range errs {
		if nil != err {
			return fmt.Errorf("Failed handshake, got error %w", err)
		}
	}

	sNode, aNode := sx.Nodes()
	pmk, ptk := sx.Keys()
	*vect = exchange.TestVector{
		SSID:              ssid,
		Passphrase:        passphrase,
		PMK:               pmk,
		SupplicantAddr:    sNode.Addr[:],
		AuthenticatorAddr: aNode.Addr[:],
		SupplicantRSN:     sNode.RSN,
		AuthenticatorRSN:  aNode.RSN,
		ANonce:            aNode.Nonce[:],
		SNonce:            sNode.Nonce[:],
		TKSize:            exchange.DefaultTKSize,
		PTK:               ptk,
		GTK:               gtk,
		GTKIndex:          int(gtkIndex),
		Message1:          messages[0],
		Message2:          messages[1],
		Message3:          messages[2],
		Message4:          messages[3],
	}

	err = vect.Check()
	if nil != err {
		return fmt.Errorf("Failed TestVector Check, got error %w", err)
	}
	return nil
}

// randomPassphrase returns a printable ASCII passphrase of 8 to 63 characters.
func randomPassphrase() string {
	size := 8 + rng.Uint64()%56
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(0x20 + rng.Uint64()%95)
	}
	return string(buf)
}

// randomAddr returns a locally administered unicast address.
func randomAddr() link.Addr {
	var rv link.Addr
	rng.Read(rv[:])
	rv[0] = (rv[0] | 0x02) &^ 0x01
	return rv
}

// rsnElement returns a WPA2-PSK CCMP RSN element with capabilities caps.
func rsnElement(caps byte) []byte {
	return []byte{
		0x30, 0x14, 0x01, 0x00,
		0x00, 0x0F, 0xAC, 0x04,
		0x01, 0x00, 0x00, 0x0F, 0xAC, 0x04,
		0x01, 0x00, 0x00, 0x0F, 0xAC, 0x02,
		caps, 0x00,
	}
}

func init() {
	var seed [32]byte
	crand.Read(seed[:])
	rng = rand.NewChaCha8(seed)
}
