package exception

import "errors"

var (
	ErrValidateInvalidSymbol     = errors.New("validate: invalid symbol")
	ErrValidateMarketClosed      = errors.New("validate: market closed")
	ErrValidateInsufficientFunds = errors.New("validate: insufficient funds")
	ErrValidateRiskLimit         = errors.New("validate: risk limit exceeded")
	ErrValidateDuplicateOrder    = errors.New("validate: duplicate order")
	ErrValidateInvalidIntent     = errors.New("validate: invalid intent")
)
