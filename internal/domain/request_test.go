package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMSISDNUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    MSISDN
		wantErr bool
	}{
		{"number", `{"phoneNumber":254712345678}`, "254712345678", false},
		{"quoted", `{"phoneNumber":"254712345678"}`, "254712345678", false},
		{"quoted with spaces", `{"phoneNumber":"  254712345678 "}`, "254712345678", false},
		{"leading zero string", `{"phoneNumber":"0712345678"}`, "0712345678", false},
		{"null", `{"phoneNumber":null}`, "", false},
		{"absent", `{}`, "", false},
		{"float", `{"phoneNumber":254712345678.5}`, "", true},
		{"exponent", `{"phoneNumber":2.54712345678e11}`, "", true},
		{"bool", `{"phoneNumber":true}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req PaymentRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.PhoneNumber)
		})
	}
}

func TestMSISDNMarshalJSON(t *testing.T) {
	tests := []struct {
		in   MSISDN
		want string
	}{
		{"254712345678", `254712345678`},
		{"0712345678", `"0712345678"`},
		{"0", `"0"`},
		{"+254712345678", `"+254712345678"`},
		{"", `null`},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
		})
	}
}

func TestPaymentRequestMissing(t *testing.T) {
	tests := []struct {
		name string
		req  PaymentRequest
		want bool
	}{
		{"complete", PaymentRequest{PhoneNumber: "254712345678", Amount: 1}, false},
		{"empty phone", PaymentRequest{Amount: 1}, true},
		{"zero phone", PaymentRequest{PhoneNumber: "0", Amount: 1}, true},
		{"zero amount", PaymentRequest{PhoneNumber: "254712345678"}, true},
		{"negative amount is present", PaymentRequest{PhoneNumber: "254712345678", Amount: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Missing())
		})
	}
}

func TestPaymentRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  PaymentRequest
		want error
	}{
		{"valid", PaymentRequest{PhoneNumber: "254712345678", Amount: 500, AccountReference: "ORDER-1"}, nil},
		{"airtel prefix", PaymentRequest{PhoneNumber: "254112345678", Amount: 500}, nil},
		{"reference at limit", PaymentRequest{PhoneNumber: "254712345678", Amount: 500, AccountReference: strings.Repeat("A", 64)}, nil},
		{"reference too long", PaymentRequest{PhoneNumber: "254712345678", Amount: 500, AccountReference: strings.Repeat("A", 65)}, ErrInvalidReference},
		{"local format phone", PaymentRequest{PhoneNumber: "0712345678", Amount: 500}, ErrInvalidPhone},
		{"short phone", PaymentRequest{PhoneNumber: "2547123", Amount: 500}, ErrInvalidPhone},
		{"negative amount", PaymentRequest{PhoneNumber: "254712345678", Amount: -5}, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPaymentRequestWithDefaults(t *testing.T) {
	req := PaymentRequest{PhoneNumber: "254712345678", Amount: 1, AccountReference: "  "}
	assert.Equal(t, DefaultAccountReference, req.WithDefaults().AccountReference)

	req.AccountReference = "ORDER-9"
	assert.Equal(t, "ORDER-9", req.WithDefaults().AccountReference)
}

func TestPaymentOutcomeStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, PaymentOutcome{ResultCode: ResultCodeSuccess}.Status())
	assert.Equal(t, StatusCancelled, PaymentOutcome{ResultCode: ResultCodeCancelledByUser}.Status())
	assert.Equal(t, StatusFailed, PaymentOutcome{ResultCode: 1}.Status())
	assert.Equal(t, StatusFailed, PaymentOutcome{ResultCode: 2001}.Status())
}
