package exception

import "errors"

// Configuration errors are fatal at startup.
var (
	ErrConfigMissingBroker     = errors.New("config: no broker configured")
	ErrConfigMissingCredential = errors.New("config: missing broker credential reference")
	ErrConfigInvalidStrategy   = errors.New("config: invalid strategy parameters")
	ErrConfigInvalidCalendar   = errors.New("config: invalid market hours calendar")
	ErrConfigInvalidRateLimit  = errors.New("config: invalid rate limit")
)
