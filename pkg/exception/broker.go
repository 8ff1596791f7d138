package exception

import "errors"

// Transient broker errors are retried with backoff; permanent errors
// terminate the order immediately.
var (
	ErrBrokerRateLimited      = errors.New("broker: rate limited")
	ErrBrokerUnavailable      = errors.New("broker: unavailable")
	ErrBrokerTimeout          = errors.New("broker: request timed out")
	ErrBrokerRejected         = errors.New("broker: order rejected")
	ErrBrokerUnknownOrder     = errors.New("broker: unknown order")
	ErrBrokerUnsupportedType  = errors.New("broker: unsupported order type")
	ErrBrokerMissingCredstore = errors.New("broker: missing credentials")
	ErrBrokerStreamClosed     = errors.New("broker: fill stream closed")
)

// IsTransient reports whether the broker error is safe to retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBrokerRateLimited) || errors.Is(err, ErrBrokerTimeout) || errors.Is(err, ErrBrokerUnavailable)
}
