// Package client is the storefront side of the payment bridge: it cleans up
// what the shopper typed and asks the bridge to start an STK push.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"qshop_backend/internal/domain"
)

const (
	DefaultBridgeURL = "http://localhost:5000"
	stkPushRoute     = "/api/mpesa/stkpush"

	msgInitiationFailed = "Payment initiation failed"
	maxReplyBytes       = 1 << 20
)

// Outcome is the uniform result handed back to the UI. Exactly one of Message
// and Error is set.
type Outcome struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func failure(msg string) Outcome {
	return Outcome{Success: false, Error: msg}
}

type Initiator struct {
	endpoint string
	hc       *http.Client
}

// NewInitiator targets the bridge at baseURL. A nil hc gets a client with a
// 30 second timeout.
func NewInitiator(baseURL string, hc *http.Client) *Initiator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBridgeURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Initiator{endpoint: baseURL + stkPushRoute, hc: hc}
}

// InitiatePayment validates the shopper's input, normalizes the phone number
// and forwards the request to the bridge. It never returns an error; every
// failure is reported through Outcome.Error.
func (i *Initiator) InitiatePayment(ctx context.Context, phone, amount, accountReference string) Outcome {
	phone, amount = strings.TrimSpace(phone), strings.TrimSpace(amount)
	if phone == "" || amount == "" {
		return failure(domain.MsgMissingFields)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil || d.IntPart() <= 0 {
		return failure(domain.MsgInvalidAmount)
	}

	msisdn, err := NormalizePhone(phone)
	if err != nil || !ValidMSISDN(msisdn) {
		return failure(domain.MsgInvalidPhone)
	}

	body, err := json.Marshal(domain.PaymentRequest{
		PhoneNumber:      domain.MSISDN(strconv.FormatInt(msisdn, 10)),
		Amount:           d.IntPart(),
		AccountReference: strings.TrimSpace(accountReference),
	})
	if err != nil {
		return failure(msgInitiationFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(msgInitiationFailed)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.hc.Do(req)
	if err != nil {
		log.Printf("bridge request failed: %v", err)
		return failure(msgInitiationFailed)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		log.Printf("bridge reply unreadable: %v", err)
		return failure(msgInitiationFailed)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(reply, &e) == nil && e.Error != "" {
			return failure(e.Error)
		}
		return failure(msgInitiationFailed)
	}

	if !json.Valid(reply) {
		reply, _ = json.Marshal(string(reply))
	}
	return Outcome{Success: true, Data: reply, Message: domain.MsgInitiateSuccess}
}
