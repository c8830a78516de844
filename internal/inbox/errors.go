package inbox

import (
	"errors"
	"fmt"

	"github.com/tmarcon/inboxsync/internal/webservice"
)

// Stable user-safe failure messages. Anything more detailed stays in the
// internal logs; callers only ever see one of these strings.
const (
	msgForbidden = "Inbox API call error: Unauthorized. Please make sure that the hexadecimal HMAC for that custom ID is valid. (code 11)"
	msgOptedOut  = "Inbox API call error: SDK has been globally opted out."
	msgTransport = "Internal webservice call error - code 10"
	msgBadJSON   = "Internal webservice call error - code 20"
	msgBadShape  = "Internal webservice call error - code 30"
)

// Error is a protocol failure carrying a stable public message. The
// underlying cause is preserved for logging but never shown to callers.
type Error struct {
	Public string
	cause  error
}

func (e *Error) Error() string { return e.Public }

func (e *Error) Unwrap() error { return e.cause }

// newShapeError flags a structurally invalid response (missing key,
// wrong type).
func newShapeError(cause error) *Error {
	return &Error{Public: msgBadShape, cause: cause}
}

// wrapTransportError maps a webservice failure onto its public message.
func wrapTransportError(err error) *Error {
	switch {
	case errors.Is(err, webservice.ErrForbidden):
		return &Error{Public: msgForbidden, cause: err}
	case errors.Is(err, webservice.ErrOptedOut):
		return &Error{Public: msgOptedOut, cause: err}
	case errors.Is(err, webservice.ErrParsing):
		return &Error{Public: msgBadJSON, cause: err}
	default:
		return &Error{Public: msgTransport, cause: err}
	}
}

// errMissingKey builds the cause for a missing required response field.
func errMissingKey(key string) error {
	return fmt.Errorf("missing key or invalid value type in response JSON: %q", key)
}
