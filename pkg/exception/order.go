package exception

import "errors"

var (
	ErrOrderNotFound          = errors.New("order: not found")
	ErrOrderDuplicate         = errors.New("order: already exists")
	ErrOrderInvalidTransition = errors.New("order: invalid state transition")
	ErrOrderAlreadyTerminal   = errors.New("order: already in terminal state")
	ErrOrderNotTerminal       = errors.New("order: not in terminal state")
	ErrOrderInvalidFill       = errors.New("order: invalid fill quantity")
	ErrOrderOverfill          = errors.New("order: fill exceeds remaining quantity")
	ErrOrderStaleFill         = errors.New("order: fill sequence already applied")
	ErrOrderQueueFull         = errors.New("order: queue full")
	ErrOrderManagerStopped    = errors.New("order: manager stopped")
	ErrOrderAckTimeout        = errors.New("order: broker acknowledgment timed out")
	ErrOrderReconciliation    = errors.New("order: ledger and broker state conflict")
)
