package exchange

import (
	"fmt"
	"time"

	"code.wpakey.org/golang/pkg/eapol/kdf"
	"code.wpakey.org/golang/pkg/link"
	"code.wpakey.org/golang/pkg/psk"
)

// Role selects which end of the 4-way handshake an Exchange runs.
type Role int

const (
	RoleSupplicant Role = iota
	RoleAuthenticator
)

func (self Role) String() string {
	switch self {
	case RoleSupplicant:
		return "supplicant"
	case RoleAuthenticator:
		return "authenticator"
	default:
		return fmt.Sprintf("Role(%d)", int(self))
	}
}

const (
	// DefaultTKSize is the CCMP temporal key size.
	DefaultTKSize = 16

	maxSSIDLen = 32
)

// CompleteFunc is called once when an Exchange concludes.
// err is nil if the exchange succeeded and its keys were installed in the link.
type CompleteFunc func(x *Exchange, err error)

// Limits bounds the work that peers can trigger.
type Limits struct {
	// Message1Burst is the number of Message 1 frames that a supplicant processes back to back.
	Message1Burst int

	// Message1Every is the interval at which a supplicant recovers Message 1 credits.
	Message1Every time.Duration
}

// DefaultLimits returns the Limits used when Params.Limits is the zero value.
func DefaultLimits() Limits {
	return Limits{Message1Burst: 4, Message1Every: time.Second}
}

// Check returns an error if the Limits are invalid.
func (self Limits) Check() error {
	if self.Message1Burst < 1 {
		return newError("invalid Message1Burst %d", self.Message1Burst)
	}
	if self.Message1Every <= 0 {
		return newError("invalid Message1Every %v", self.Message1Every)
	}
	return nil
}

// Params holds the Exchange creation parameters.
type Params struct {
	Link              link.Link
	Role              Role
	SupplicantAddr    link.Addr
	AuthenticatorAddr link.Addr
	SSID              string

	// Passphrase is an 8 to 63 characters passphrase or a 32 bytes PSK.
	Passphrase []byte

	// SupplicantRSN & AuthenticatorRSN are the RSN elements exchanged at association.
	SupplicantRSN    []byte
	AuthenticatorRSN []byte

	// GTK is the group key distributed by an authenticator, it may be empty.
	GTK      []byte
	GTKIndex int

	// TKSize is the pairwise temporal key size advertised by an authenticator.
	// Zero means DefaultTKSize.
	TKSize int

	OnComplete CompleteFunc

	// PSKStore caches passphrase derived PMKs, it may be nil.
	PSKStore psk.Store

	// Limits zero value means DefaultLimits().
	Limits Limits
}

// Check returns an error if the Params are invalid.
func (self *Params) Check() error {
	if nil == self.Link {
		return newError("nil Link")
	}
	if nil == self.OnComplete {
		return newError("nil OnComplete")
	}
	switch self.Role {
	case RoleSupplicant, RoleAuthenticator:
	default:
		return newError("invalid role %v", self.Role)
	}
	if 0 == len(self.SSID) || len(self.SSID) > maxSSIDLen {
		return newError("invalid SSID length %d", len(self.SSID))
	}
	if 0 == len(self.Passphrase) {
		return newError("empty Passphrase")
	}
	if 0 == len(self.SupplicantRSN) || 0 == len(self.AuthenticatorRSN) {
		return newError("missing RSN element")
	}
	if self.SupplicantAddr == self.AuthenticatorAddr {
		return newError("supplicant & authenticator share address %s", self.SupplicantAddr)
	}
	if RoleAuthenticator == self.Role {
		tkSize := self.tkSize()
		if tkSize < 1 || tkSize > kdf.MaxTKSize {
			return newError("invalid TKSize %d", self.TKSize)
		}
		if len(self.GTK) > 0 && len(self.GTK) != tkSize {
			return newError("GTK size %d does not match TKSize %d", len(self.GTK), tkSize)
		}
		if self.GTKIndex < 0 || self.GTKIndex > 3 {
			return newError("invalid GTKIndex %d", self.GTKIndex)
		}
	}
	if (Limits{}) != self.Limits {
		return wrapError(self.Limits.Check(), "invalid Limits") // nil if Check succeeds
	}

	return nil
}

func (self *Params) tkSize() int {
	if 0 == self.TKSize {
		return DefaultTKSize
	}
	return self.TKSize
}

func (self *Params) limits() Limits {
	if (Limits{}) == self.Limits {
		return DefaultLimits()
	}
	return self.Limits
}
