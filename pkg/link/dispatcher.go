package link

import (
	"context"
	"errors"

	"github.com/google/gopacket/layers"

	"code.wpakey.org/golang/internal/observability"
	"code.wpakey.org/golang/internal/transport"
)

const etherTypeEAPOL = layers.EthernetTypeEAPOL

// ReceiveFunc is called by Dispatcher for each EAPOL frame received on link id.
type ReceiveFunc func(ctx context.Context, id ID, frame Frame)

// Dispatcher reads ethernet frames from a Transport and passes the EAPOL frames addressed to Addr to Receive.
type Dispatcher struct {
	Link      ID
	Addr      Addr
	Transport transport.Transport
	Receive   ReceiveFunc
}

// Run reads frames until the Transport fails or ctx is done.
//
// ctx cancellation is noticed between frames, close the Transport stream to interrupt a pending read.
// Run returns nil if ctx is done.
func (self Dispatcher) Run(ctx context.Context) error {
	log := observability.GetObservability(ctx).Log().With("link", self.Link)
	for {
		data, err := self.Transport.ReadBytes()
		if nil != ctx.Err() {
			return nil
		}
		if nil != err {
			return wrapError(err, "failed reading link frame")
		}

		frame, err := DecodeEthernet(data)
		if nil != err {
			if errors.Is(err, ErrNotEAPOL) {
				continue
			}
			log.Debug("dropped undecodable frame", "error", err)
			continue
		}
		if frame.Dst != self.Addr && frame.Dst != Broadcast {
			log.Debug("dropped frame for other station", "dst", frame.Dst)
			continue
		}

		self.Receive(ctx, self.Link, frame)
	}
}
