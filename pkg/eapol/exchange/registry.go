package exchange

import (
	"bytes"
	"context"
	"crypto/rand"
	"time"

	"golang.org/x/time/rate"

	"code.wpakey.org/golang/internal/observability"
	"code.wpakey.org/golang/internal/utils"
	"code.wpakey.org/golang/pkg/eapol"
	"code.wpakey.org/golang/pkg/eapol/kdf"
	"code.wpakey.org/golang/pkg/link"
	"code.wpakey.org/golang/pkg/psk"
)

// Registry maps links to their Exchange. A link has at most one registered Exchange.
//
// The Registry lock is never acquired while holding an Exchange lock.
type Registry struct {
	entries *utils.Registry[link.ID, *Exchange]
}

// DefaultRegistry is the process wide Registry used by Create & Receive.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: utils.NewRegistry[link.ID, *Exchange]()}
}

// Create starts an Exchange in the DefaultRegistry.
func Create(ctx context.Context, params Params) (*Exchange, error) {
	return DefaultRegistry.Create(ctx, params)
}

// Receive processes raw using the DefaultRegistry.
func Receive(ctx context.Context, id link.ID, raw []byte) error {
	return DefaultRegistry.Receive(ctx, id, raw)
}

// Create validates params, derives the PMK and registers a new Exchange for params.Link.
// Authenticator Exchanges send Message 1 before Create returns.
//
// The returned Exchange holds a creator reference that is released by Destroy.
func (self *Registry) Create(ctx context.Context, params Params) (*Exchange, error) {
	err := params.Check()
	if nil != err {
		return nil, wrapError(err, "invalid params")
	}

	lnk := params.Link
	tctx, tr := observability.StartTrace(ctx, "xid", "link", lnk.ID(), "role", params.Role)
	x := &Exchange{
		id:         tr.Id,
		log:        tr.Log(),
		lnk:        lnk,
		reg:        self,
		onComplete: params.OnComplete,
		supplicant: Node{
			Addr: params.SupplicantAddr,
			RSN:  bytes.Clone(params.SupplicantRSN),
		},
		authenticator: Node{
			Addr: params.AuthenticatorAddr,
			RSN:  bytes.Clone(params.AuthenticatorRSN),
		},
	}
	limits := params.limits()
	x.limiter = rate.NewLimiter(rate.Every(limits.Message1Every), limits.Message1Burst)

	var local *Node
	switch params.Role {
	case RoleSupplicant:
		x.role = &supplicant{x: x}
		local = &x.supplicant
	default:
		x.role = &authenticator{x: x, tkSize: params.tkSize()}
		local = &x.authenticator
		// authenticator replay counters are always valid
		x.replayValid = true
		if len(params.GTK) > 0 {
			x.gtk = eapol.GTK{
				Flags: eapol.GTKFlags(params.GTKIndex) & eapol.GTKKeyIDMask,
				Key:   bytes.Clone(params.GTK),
			}
		}
	}

	x.counter, err = kdf.NewKeyCounter(local.Addr, rand.Reader, time.Now())
	if nil != err {
		return nil, wrapError(err, "failed seeding key counter")
	}
	local.Nonce = x.counter.Nonce()

	x.pmk, err = psk.Derive(tctx, params.PSKStore, params.Passphrase, params.SSID)
	if nil != err {
		return nil, wrapError(err, "failed deriving PMK")
	}

	// creator & registry references
	x.refs.Store(2)
	x.registered = true
	err = utils.RegistrySet(self.entries, lnk.ID(), x)
	if nil != err {
		x.refs.Store(1)
		x.registered = false
		x.release()
		return nil, wrapError(ErrLinkBusy, "link %d", lnk.ID())
	}

	x.mut.Lock()
	err = x.role.start(tctx)
	if nil != err {
		x.registered = false
	}
	x.mut.Unlock()
	if nil != err {
		self.remove(x)
		x.destroyed.Store(true)
		x.release()
		return nil, wrapError(err, "failed starting exchange")
	}

	x.log.Info("exchange started")
	return x, nil
}

// Lookup returns the Exchange registered for id with an added reference.
// Callers must release the reference with the returned func.
func (self *Registry) Lookup(id link.ID) (*Exchange, func(), bool) {
	var x *Exchange
	found := utils.RegistryVisit(self.entries, id, func(v *Exchange) {
		v.acquire()
		x = v
	})
	if !found {
		return nil, nil, false
	}
	return x, x.release, true
}

// Len returns the number of registered Exchanges.
func (self *Registry) Len() int {
	return utils.RegistryLen(self.entries)
}

// remove unregisters x and releases the Registry reference.
// It does nothing if x is no longer registered.
func (self *Registry) remove(x *Exchange) {
	removed := utils.RegistryDeleteFunc(self.entries, x.lnk.ID(), func(v *Exchange) bool {
		return v == x
	})
	if removed {
		x.release()
	}
}

// Receive processes raw, an EAPOL frame received on the link id.
//
// It returns the reason why raw was dropped, or nil if raw was processed.
// Dropped frames do not change the Exchange state.
func (self *Registry) Receive(ctx context.Context, id link.ID, raw []byte) error {
	return self.receive(ctx, id, nil, raw)
}

// Deliver is a link.ReceiveFunc that processes frames sent by the Exchange peer.
func (self *Registry) Deliver(ctx context.Context, id link.ID, frame link.Frame) {
	self.receive(ctx, id, &frame.Src, frame.Payload)
}

func (self *Registry) receive(ctx context.Context, id link.ID, src *link.Addr, raw []byte) error {
	log := observability.GetObservability(ctx).Log()
	x, release, found := self.Lookup(id)
	if !found {
		log.Debug("frame dropped", "link", id, "reason", "no exchange")
		return wrapError(ErrUnknownLink, "link %d", id)
	}
	defer release()

	frame, err := eapol.Parse(raw)
	if nil != err {
		x.log.Debug("frame dropped", "error", err)
		return wrapError(err, "failed parsing frame")
	}

	err = x.receive(ctx, src, frame)
	if nil != err {
		x.log.Debug("frame dropped", "message", frame.Message(), "error", err)
	}
	return err
}
