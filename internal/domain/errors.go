package domain

import "errors"

var (
	ErrMissingFields    = errors.New("phone number and amount are required")
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidReference = errors.New("invalid account reference")

	ErrGatewayAuth        = errors.New("gateway authentication failed")
	ErrGatewayRejected    = errors.New("gateway rejected request")
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	ErrPaymentNotFound = errors.New("payment not found")
	ErrPaymentSettled  = errors.New("payment already settled")
	ErrInvalidCallback = errors.New("invalid callback payload")
)

// Client-facing messages. These are part of the HTTP contract and must not change.
const (
	MsgMissingFields    = "Phone number and amount are required"
	MsgInvalidPhone     = "Invalid phone number"
	MsgInvalidAmount    = "Invalid amount"
	MsgInvalidReference = "Invalid account reference"
	MsgInitiateFailed   = "Failed to initiate payment"
	MsgInitiateSuccess  = "Payment request initiated successfully"
)
