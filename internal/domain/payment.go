package domain

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusSuccess   PaymentStatus = "SUCCESS"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCancelled PaymentStatus = "CANCELLED"
)

// DefaultAccountReference tags pushes whose caller did not name an order.
const DefaultAccountReference = "StudentMarketplace"

// Result codes the gateway reports in its asynchronous callback.
const (
	ResultCodeSuccess         = 0
	ResultCodeCancelledByUser = 1032
)

// Payment is the journal entry kept for every push the gateway accepted.
type Payment struct {
	ID                string
	CheckoutRequestID string
	MerchantRequestID string
	PhoneNumber       string
	Amount            int64
	AccountReference  string
	Status            PaymentStatus
	ResultCode        *int
	ResultDesc        string
	ReceiptNumber     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// InitiationResult is the gateway's acknowledgement of a push. Raw is the body
// exactly as the gateway sent it; the other fields are read from it for the journal.
type InitiationResult struct {
	Raw               json.RawMessage
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	CustomerMessage   string
}

// PaymentOutcome is the final result the gateway delivers for a push.
type PaymentOutcome struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            int64
	ReceiptNumber     string
	PhoneNumber       string
	TransactionDate   *time.Time
}

func (o PaymentOutcome) Status() PaymentStatus {
	switch o.ResultCode {
	case ResultCodeSuccess:
		return StatusSuccess
	case ResultCodeCancelledByUser:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

type PaymentFilter struct {
	PhoneNumber      string
	AccountReference string
	Status           PaymentStatus
}
