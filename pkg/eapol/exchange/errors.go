package exchange

import (
	"code.wpakey.org/golang/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error = errorFlag("exchange: error")

	// ErrRSNMismatch signals that the peer key data does not carry the RSN element
	// advertised at association. It terminates the exchange.
	ErrRSNMismatch = errorFlag("exchange: RSN element mismatch")

	// ErrUnsupportedVersion signals a key descriptor version that this package does not implement.
	ErrUnsupportedVersion = errorFlag("exchange: unsupported key descriptor version")

	// ErrReplay flags frames whose replay counter is not acceptable.
	ErrReplay = errorFlag("exchange: replayed frame")

	// ErrNonceMismatch flags frames that do not carry the nonce of the ongoing exchange.
	ErrNonceMismatch = errorFlag("exchange: nonce mismatch")

	// ErrInvalidMIC flags frames whose MIC does not validate.
	ErrInvalidMIC = errorFlag("exchange: invalid MIC")

	// ErrUnexpectedMessage flags frames that the exchange can not process in its current state.
	ErrUnexpectedMessage = errorFlag("exchange: unexpected message")

	// ErrRateLimited flags Message 1 frames received too often.
	ErrRateLimited = errorFlag("exchange: message 1 rate exceeded")

	// ErrLinkBusy signals that the link already has an exchange.
	ErrLinkBusy = errorFlag("exchange: link has an exchange")

	// ErrUnknownLink signals that no exchange is registered for a link.
	ErrUnknownLink = errorFlag("exchange: no exchange for link")

	noError = errorFlag("")
)

// Error implements the error interface.
func (self errorFlag) Error() string {
	return string(self)
}

func (self errorFlag) Unwrap() error {
	if Error == self || noError == self {
		return nil
	} else {
		return Error
	}
}

// newError returns a utils.RaisedErr{} that contains file & line of where it was called.
func newError(msg string, args ...any) error {
	return utils.NewError(1, Error, msg, args...)
}

// wrapError returns a utils.RaisedErr{} that contains file & line of where it was called.
func wrapError(cause error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, Error, msg, args...)
}
