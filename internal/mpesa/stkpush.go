package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"qshop_backend/internal/config"
	"qshop_backend/internal/domain"
)

const (
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	TransactionTypePayBill = "CustomerPayBillOnline"
	timestampLayout        = "20060102150405"
)

// PushPayload is the signed body of an STK push request.
type PushPayload struct {
	BusinessShortCode string        `json:"BusinessShortCode"`
	Password          string        `json:"Password"`
	Timestamp         string        `json:"Timestamp"`
	TransactionType   string        `json:"TransactionType"`
	Amount            int64         `json:"Amount"`
	PartyA            domain.MSISDN `json:"PartyA"`
	PartyB            string        `json:"PartyB"`
	PhoneNumber       domain.MSISDN `json:"PhoneNumber"`
	CallBackURL       string        `json:"CallBackURL"`
	AccountReference  string        `json:"AccountReference"`
	TransactionDesc   string        `json:"TransactionDesc"`
}

// GatewayError is a non-2xx reply from the push endpoint. Message holds the
// gateway's errorMessage when the body carried one.
type GatewayError struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway returned %d", e.Status)
}

func (e *GatewayError) Unwrap() error { return domain.ErrGatewayRejected }

// Timestamp formats t in the merchant's clock as YYYYMMDDHHmmss.
func Timestamp(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(timestampLayout)
}

// Password derives the per-request password the gateway recomputes to check
// the shortcode, passkey and timestamp.
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// Client relays STK push requests to the gateway.
type Client struct {
	cfg    *config.MpesaConfig
	tokens TokenSource
	tr     *Transport
	now    func() time.Time
}

func NewClient(cfg *config.MpesaConfig, tokens TokenSource, tr *Transport) *Client {
	return &Client{cfg: cfg, tokens: tokens, tr: tr, now: time.Now}
}

func (c *Client) BuildPayload(req domain.PaymentRequest, at time.Time) PushPayload {
	ts := Timestamp(at, c.cfg.Location)
	ref := req.AccountReference
	if ref == "" {
		ref = domain.DefaultAccountReference
	}
	desc := c.cfg.TransactionDesc
	if desc == "" {
		desc = "Payment for order"
	}

	return PushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   TransactionTypePayBill,
		Amount:            req.Amount,
		PartyA:            req.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  ref,
		TransactionDesc:   desc,
	}
}

// Push obtains a token, signs the request and relays it. On success the
// gateway's body is returned untouched in InitiationResult.Raw.
func (c *Client) Push(ctx context.Context, req domain.PaymentRequest) (*domain.InitiationResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	payload := c.BuildPayload(req, c.now())
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode push payload: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	log.Printf("stk push: shortcode=%s amount=%d ref=%s timestamp=%s",
		payload.BusinessShortCode, payload.Amount, payload.AccountReference, payload.Timestamp)

	rep, err := c.tr.roundTrip(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	if !rep.ok() {
		return nil, newGatewayError(rep)
	}

	res := &domain.InitiationResult{Raw: json.RawMessage(rep.body)}
	var ack struct {
		MerchantRequestID string      `json:"MerchantRequestID"`
		CheckoutRequestID string      `json:"CheckoutRequestID"`
		ResponseCode      json.Number `json:"ResponseCode"`
		CustomerMessage   string      `json:"CustomerMessage"`
	}
	if err := json.Unmarshal(rep.body, &ack); err == nil {
		res.MerchantRequestID = ack.MerchantRequestID
		res.CheckoutRequestID = ack.CheckoutRequestID
		res.ResponseCode = ack.ResponseCode.String()
		res.CustomerMessage = ack.CustomerMessage
	}
	return res, nil
}

func newGatewayError(rep *reply) *GatewayError {
	ge := &GatewayError{Status: rep.status, Body: rep.body}
	var body struct {
		RequestID    string `json:"requestId"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(rep.body, &body); err == nil {
		ge.Code = body.ErrorCode
		ge.Message = body.ErrorMessage
	}
	return ge
}
