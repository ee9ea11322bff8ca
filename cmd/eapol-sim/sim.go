package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"code.wpakey.org/golang/internal/transport"
	"code.wpakey.org/golang/pkg/eapol/exchange"
	"code.wpakey.org/golang/pkg/link"
	"code.wpakey.org/golang/pkg/psk"
	"code.wpakey.org/golang/pkg/psk/boltdb"
	"code.wpakey.org/golang/pkg/psk/redisdb"
)

var (
	supplicantAddr    = link.Addr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	authenticatorAddr = link.Addr{0x02, 0x00, 0x00, 0x00, 0x00, 0xAA}
	supplicantRSN     = []byte{
		0x30, 0x14, 0x01, 0x00, 0x00, 0x0F, 0xAC, 0x04, 0x01, 0x00, 0x00, 0x0F,
		0xAC, 0x04, 0x01, 0x00, 0x00, 0x0F, 0xAC, 0x02, 0x00, 0x00,
	}
	authenticatorRSN = []byte{
		0x30, 0x14, 0x01, 0x00, 0x00, 0x0F, 0xAC, 0x04, 0x01, 0x00, 0x00, 0x0F,
		0xAC, 0x04, 0x01, 0x00, 0x00, 0x0F, 0xAC, 0x02, 0x0C, 0x00,
	}
)

// pmkRedisTTL bounds the lifetime of PMKs cached in redis.
const pmkRedisTTL = 24 * time.Hour

// Config holds the simulation parameters.
type Config struct {
	SSID       string
	Passphrase string
	GTK        bool
	TamperRSN  bool
	Pause      bool
	PMKCache   string
	PMKRedis   string
}

// Result holds the completion status & installed keys of both stations.
type Result struct {
	Supplicant        error
	Authenticator     error
	SupplicantKeys    []link.Key
	AuthenticatorKeys []link.Key
}

func (self Result) String() string {
	var sb strings.Builder
	for _, st := range []struct {
		name string
		err  error
		keys []link.Key
	}{
		{name: "supplicant", err: self.Supplicant, keys: self.SupplicantKeys},
		{name: "authenticator", err: self.Authenticator, keys: self.AuthenticatorKeys},
	} {
		if nil == st.err {
			fmt.Fprintf(&sb, "%s: success\n", st.name)
		} else {
			fmt.Fprintf(&sb, "%s: failed, %v\n", st.name, st.err)
		}
		for _, key := range st.keys {
			fmt.Fprintf(&sb, "  key %d: %d bytes, %s\n", key.Index, len(key.Data), key.Flags)
		}
	}
	return sb.String()
}

// station is one end of the simulated link.
type station struct {
	lnk  *link.StreamLink
	disp link.Dispatcher
	reg  *exchange.Registry
	done chan error
}

func newStation(id link.ID, addr link.Addr, conn net.Conn) *station {
	tr := transport.NewRWTransport(conn)
	reg := exchange.NewRegistry()
	return &station{
		lnk: link.NewStreamLink(id, tr),
		disp: link.Dispatcher{
			Link:      id,
			Addr:      addr,
			Transport: tr,
			Receive:   reg.Deliver,
		},
		reg:  reg,
		done: make(chan error, 1),
	}
}

func (self *station) onComplete(_ *exchange.Exchange, err error) {
	self.done <- err
}

// run connects a supplicant & an authenticator with a net.Pipe and waits for their handshake to end.
//
// It errors if the stations can not be started or if ctx is done before the handshake ends.
func run(ctx context.Context, cfg Config) (Result, error) {
	var res Result

	var store psk.Store
	switch {
	case "" != cfg.PMKCache && "" != cfg.PMKRedis:
		return res, fmt.Errorf("Only one of PMKCache & PMKRedis can be set")
	case "" != cfg.PMKCache:
		var err error
		store, err = boltdb.New(cfg.PMKCache)
		if nil != err {
			return res, fmt.Errorf("Failed opening PMK cache, got error %w", err)
		}
	case "" != cfg.PMKRedis:
		rstore, client, err := redisdb.Dial(ctx, cfg.PMKRedis, pmkRedisTTL)
		if nil != err {
			return res, fmt.Errorf("Failed connecting PMK cache, got error %w", err)
		}
		defer client.Close()
		store = rstore
	}

	sConn, aConn := net.Pipe()
	sta := newStation(1, supplicantAddr, sConn)
	ap := newStation(2, authenticatorAddr, aConn)
	sta.lnk.SetPaused(cfg.Pause)
	ap.lnk.SetPaused(cfg.Pause)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sta.disp.Run(gctx) })
	g.Go(func() error { return ap.disp.Run(gctx) })
	defer func() {
		cancel()
		sConn.Close()
		aConn.Close()
		g.Wait()
	}()

	params := exchange.Params{
		SupplicantAddr:    supplicantAddr,
		AuthenticatorAddr: authenticatorAddr,
		SSID:              cfg.SSID,
		Passphrase:        []byte(cfg.Passphrase),
		SupplicantRSN:     supplicantRSN,
		AuthenticatorRSN:  authenticatorRSN,
		PSKStore:          store,
	}

	sParams := params
	sParams.Link = sta.lnk
	sParams.Role = exchange.RoleSupplicant
	sParams.OnComplete = sta.onComplete
	if cfg.TamperRSN {
		sParams.AuthenticatorRSN = bytes.Clone(authenticatorRSN)
		sParams.AuthenticatorRSN[len(authenticatorRSN)-2] ^= 0xFF
	}
	sx, err := sta.reg.Create(ctx, sParams)
	if nil != err {
		return res, fmt.Errorf("Failed creating supplicant exchange, got error %w", err)
	}
	defer sx.Destroy()

	aParams := params
	aParams.Link = ap.lnk
	aParams.Role = exchange.RoleAuthenticator
	aParams.OnComplete = ap.onComplete
	if cfg.GTK {
		aParams.GTK = make([]byte, exchange.DefaultTKSize)
		rand.Read(aParams.GTK)
		aParams.GTKIndex = 1
	}
	ax, err := ap.reg.Create(ctx, aParams)
	if nil != err {
		return res, fmt.Errorf("Failed creating authenticator exchange, got error %w", err)
	}
	defer ax.Destroy()

	select {
	case res.Supplicant = <-sta.done:
	case <-ctx.Done():
		return res, fmt.Errorf("Supplicant did not complete, got error %w", ctx.Err())
	}
	res.SupplicantKeys = sta.lnk.Keys()

	if nil != res.Supplicant {
		// the authenticator waits for a message 4 that will never come
		res.Authenticator = fmt.Errorf("no message 4 from supplicant")
		return res, nil
	}

	select {
	case res.Authenticator = <-ap.done:
	case <-ctx.Done():
		return res, fmt.Errorf("Authenticator did not complete, got error %w", ctx.Err())
	}
	res.AuthenticatorKeys = ap.lnk.Keys()

	return res, nil
}
