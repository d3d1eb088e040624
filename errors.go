package celrix

import (
	"errors"

	"github.com/celrix/celrix/protocol"
	"github.com/celrix/celrix/store"
	"github.com/celrix/celrix/vector"
)

var (
	// ErrKeyTooLarge is returned for keys over protocol.MaxKeySize.
	ErrKeyTooLarge = errors.New("key too large")

	// ErrValueTooLarge is returned for values over the configured maximum.
	ErrValueTooLarge = errors.New("value too large")

	// ErrInvalidPattern is returned for an unparsable KEYS/SCAN glob.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrServerClosed is returned by Run after a clean shutdown.
	ErrServerClosed = errors.New("server closed")
)

// wireMessage renders an execution error as the message carried by an
// Error response frame. Clients match on these strings, so they are part
// of the protocol surface.
func wireMessage(err error) string {
	var dm *vector.ErrDimensionMismatch
	switch {
	case errors.As(err, &dm):
		return "DimensionMismatch"
	case errors.Is(err, ErrKeyTooLarge):
		return "KeyTooLarge"
	case errors.Is(err, ErrValueTooLarge):
		return "ValueTooLarge"
	case errors.Is(err, ErrInvalidPattern):
		return "invalid pattern"
	case errors.Is(err, protocol.ErrMalformedPayload):
		return "MalformedPayload"
	case errors.Is(err, protocol.ErrUnknownOpcode):
		return "UnknownOpcode"
	case errors.Is(err, store.ErrNotInteger):
		return "value is not an integer"
	default:
		return "internal"
	}
}
