package httpd

import (
	"encoding/json"
	"time"

	"qshop_backend/internal/domain"
)

// StkPushReq is the body of POST /api/mpesa/stkpush. Amount is kept as a
// json.Number so that fractional and quoted values reach parseAmount.
type StkPushReq struct {
	PhoneNumber      domain.MSISDN `json:"phoneNumber"`
	Amount           json.Number   `json:"amount"`
	AccountReference string        `json:"accountReference"`
}

type ErrorResp struct {
	Error string `json:"error"`
}

type HealthResp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type IndexResp struct {
	Service        string   `json:"service"`
	Status         string   `json:"status"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// CallbackAck is what the gateway expects back from a result callback.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

type PaymentListQuery struct {
	Phone            string `validate:"omitempty,numeric,max=15"`
	Status           string `validate:"omitempty,oneof=PENDING SUCCESS FAILED CANCELLED"`
	AccountReference string `validate:"max=64"`
	Limit            int    `validate:"gte=0"`
	Offset           int    `validate:"gte=0"`
}

type PaymentItem struct {
	ID                string     `json:"id"`
	CheckoutRequestID string     `json:"checkoutRequestId"`
	MerchantRequestID string     `json:"merchantRequestId"`
	PhoneNumber       string     `json:"phoneNumber"`
	Amount            int64      `json:"amount"`
	AccountReference  string     `json:"accountReference"`
	Status            string     `json:"status"`
	ResultCode        *int       `json:"resultCode,omitempty"`
	ResultDesc        string     `json:"resultDesc,omitempty"`
	ReceiptNumber     string     `json:"receiptNumber,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

func toPaymentItem(p domain.Payment) PaymentItem {
	return PaymentItem{
		ID:                p.ID,
		CheckoutRequestID: p.CheckoutRequestID,
		MerchantRequestID: p.MerchantRequestID,
		PhoneNumber:       p.PhoneNumber,
		Amount:            p.Amount,
		AccountReference:  p.AccountReference,
		Status:            string(p.Status),
		ResultCode:        p.ResultCode,
		ResultDesc:        p.ResultDesc,
		ReceiptNumber:     p.ReceiptNumber,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		CompletedAt:       p.CompletedAt,
	}
}
