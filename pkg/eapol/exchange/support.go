package exchange

import (
	"bytes"
	"encoding/json"
	"os"

	"code.wpakey.org/golang/internal/utils"
	"code.wpakey.org/golang/pkg/eapol"
	"code.wpakey.org/golang/pkg/eapol/kdf"
	"code.wpakey.org/golang/pkg/eapol/keywrap"
)

// TestVector holds the inputs & frames of a complete 4-way handshake.
type TestVector struct {
	SSID              string          `json:"ssid"`
	Passphrase        string          `json:"passphrase"`
	PMK               utils.HexBinary `json:"pmk"`
	SupplicantAddr    utils.HexBinary `json:"spa"`
	AuthenticatorAddr utils.HexBinary `json:"aa"`
	SupplicantRSN     utils.HexBinary `json:"supplicant_rsn"`
	AuthenticatorRSN  utils.HexBinary `json:"authenticator_rsn"`
	ANonce            utils.HexBinary `json:"anonce"`
	SNonce            utils.HexBinary `json:"snonce"`
	TKSize            int             `json:"tk_size"`
	PTK               utils.HexBinary `json:"ptk"`
	GTK               utils.HexBinary `json:"gtk,omitempty"`
	GTKIndex          int             `json:"gtk_index"`
	Message1          utils.HexBinary `json:"message1"`
	Message2          utils.HexBinary `json:"message2"`
	Message3          utils.HexBinary `json:"message3"`
	Message4          utils.HexBinary `json:"message4"`
}

// Check recomputes the vector keys and authenticates its frames.
func (self *TestVector) Check() error {
	pmk, err := kdf.PMK([]byte(self.Passphrase), self.SSID)
	if nil != err {
		return wrapError(err, "failed PMK derivation")
	}
	if !bytes.Equal(pmk, self.PMK) {
		return newError("PMK mismatch")
	}
	ptk, err := kdf.DerivePTK(pmk, self.AuthenticatorAddr, self.SupplicantAddr, self.ANonce, self.SNonce, self.TKSize)
	if nil != err {
		return wrapError(err, "failed PTK derivation")
	}
	if !bytes.Equal(ptk.Bytes(), self.PTK) {
		return newError("PTK mismatch")
	}

	var frames [4]*eapol.KeyFrame
	for i, raw := range [...][]byte{self.Message1, self.Message2, self.Message3, self.Message4} {
		frames[i], err = eapol.Parse(raw)
		if nil != err {
			return wrapError(err, "failed parsing message %d", i+1)
		}
		if eapol.Message(i+1) != frames[i].Message() {
			return newError("message %d classified as %s", i+1, frames[i].Message())
		}
		if i > 0 && !eapol.ValidateMIC(eapol.KeyVersionAESHMACSHA1, ptk.KCK(), frames[i]) {
			return wrapError(ErrInvalidMIC, "message %d", i+1)
		}
	}

	msg1, msg2, msg3 := frames[0], frames[1], frames[2]
	switch {
	case !bytes.Equal(msg1.Nonce[:], self.ANonce) || !bytes.Equal(msg3.Nonce[:], self.ANonce):
		return wrapError(ErrNonceMismatch, "ANonce")
	case !bytes.Equal(msg2.Nonce[:], self.SNonce):
		return wrapError(ErrNonceMismatch, "SNonce")
	case self.TKSize != int(msg1.KeyLength):
		return newError("message 1 key length %d", msg1.KeyLength)
	case !bytes.Equal(msg2.Data, self.SupplicantRSN):
		return wrapError(ErrRSNMismatch, "message 2")
	}

	data, err := keywrap.Unwrap(ptk.KEK(), msg3.Data)
	if nil != err {
		return wrapError(err, "failed unwrapping message 3 key data")
	}
	if !hasRSN(data, self.AuthenticatorRSN) {
		return wrapError(ErrRSNMismatch, "message 3")
	}
	if len(self.GTK) > 0 {
		kde, _, err := eapol.ParseKDE(data[len(self.AuthenticatorRSN):])
		if nil != err {
			return wrapError(err, "missing GTK KDE")
		}
		gtk, err := eapol.ParseGTK(kde)
		if nil != err {
			return wrapError(err, "invalid GTK KDE")
		}
		if !bytes.Equal(gtk.Key, self.GTK) || self.GTKIndex != gtk.Flags.KeyID() {
			return newError("GTK mismatch")
		}
	}

	return nil
}

// LoadTestVectors loads test vectors from json file at srcpath.
func LoadTestVectors(srcpath string) ([]TestVector, error) {
	src, err := os.Open(srcpath)
	if nil != err {
		return nil, wrapError(err, "failed opening file %s", srcpath)
	}
	defer src.Close()
	dec := json.NewDecoder(src)
	rv := []TestVector{}
	err = dec.Decode(&rv)
	return rv, wrapError(err, "failed decoding json test vectors")
}
