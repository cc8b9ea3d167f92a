package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"qshop_backend/internal/domain"
)

// callbackEnvelope is the document the gateway POSTs to CallBackURL once the
// subscriber has answered (or ignored) the prompt.
type callbackEnvelope struct {
	Body struct {
		StkCallback stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID" validate:"required"`
	ResultCode        *int              `json:"ResultCode" validate:"required"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *callbackMetadata `json:"CallbackMetadata"`
}

type callbackMetadata struct {
	Item []callbackItem `json:"Item"`
}

type callbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

var callbackValidate = validator.New()

// ParseCallback decodes a gateway callback into a PaymentOutcome.
func ParseCallback(body []byte, loc *time.Location) (domain.PaymentOutcome, error) {
	var env callbackEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return domain.PaymentOutcome{}, fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}
	if err := callbackValidate.Struct(env); err != nil {
		return domain.PaymentOutcome{}, fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}

	cb := env.Body.StkCallback
	out := domain.PaymentOutcome{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        *cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	if cb.CallbackMetadata == nil {
		return out, nil
	}

	for _, item := range cb.CallbackMetadata.Item {
		raw := itemString(item.Value)
		switch item.Name {
		case "Amount":
			if d, err := decimal.NewFromString(raw); err == nil {
				out.Amount = d.IntPart()
			}
		case "MpesaReceiptNumber":
			out.ReceiptNumber = raw
		case "PhoneNumber":
			out.PhoneNumber = raw
		case "TransactionDate":
			if loc == nil {
				loc = time.UTC
			}
			if t, err := time.ParseInLocation(timestampLayout, raw, loc); err == nil {
				out.TransactionDate = &t
			}
		}
	}
	return out, nil
}

func itemString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
