package eapol

import (
	"crypto/hmac"
	"crypto/sha1"
)

// ComputeMIC sets frame MIC using kck and the integrity algorithm of version.
// MIC calculation covers the whole frame encoding with a zeroed MIC field.
//
// It errors with ErrUnsupportedMIC for versions other than KeyVersionAESHMACSHA1.
func ComputeMIC(version KeyVersion, kck []byte, frame *KeyFrame) error {
	if 0 == len(kck) {
		return newError("missing kck")
	}
	frame.syncLengths()
	mic, err := computeMIC(version, kck, frame)
	if nil != err {
		return wrapError(err, "failed MIC calculation")
	}
	frame.MIC = mic
	return nil
}

// ValidateMIC returns true if frame MIC matches the MIC calculated using kck.
// It returns false if kck is empty or if version integrity algorithm is not supported.
// The frame is authenticated with its header as received and is left unchanged.
func ValidateMIC(version KeyVersion, kck []byte, frame *KeyFrame) bool {
	if 0 == len(kck) {
		return false
	}
	mic, err := computeMIC(version, kck, frame)
	if nil != err {
		return false
	}
	return hmac.Equal(mic[:], frame.MIC[:])
}

func computeMIC(version KeyVersion, kck []byte, frame *KeyFrame) ([MICSize]byte, error) {
	var mic [MICSize]byte
	switch version {
	case KeyVersionAESHMACSHA1:
	default:
		return mic, wrapError(ErrUnsupportedMIC, "no MIC algorithm for %s", version)
	}

	received := frame.MIC
	frame.MIC = [MICSize]byte{}
	defer func() { frame.MIC = received }()

	mac := hmac.New(sha1.New, kck)
	mac.Write(frame.encode(make([]byte, 0, KeyFrameLen+len(frame.Data))))
	copy(mic[:], mac.Sum(nil))

	return mic, nil
}
