package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MSISDN is a subscriber number in international format: digits only, country
// code first. It is written to JSON as a number; a JSON string is accepted on input.
type MSISDN string

var msisdnPattern = regexp.MustCompile(`^254[17][0-9]{8}$`)

// Valid reports whether m is a number the gateway will accept as a payer.
func (m MSISDN) Valid() bool {
	return msisdnPattern.MatchString(string(m))
}

func (m MSISDN) IsZero() bool {
	return m == "" || m == "0"
}

func (m MSISDN) MarshalJSON() ([]byte, error) {
	s := string(m)
	if s == "" {
		return []byte("null"), nil
	}
	if isDigits(s) && s[0] != '0' {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

func (m *MSISDN) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = MSISDN(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("phone number: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("phone number must be an integer: %w", err)
	}
	*m = MSISDN(n.String())
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// PaymentRequest is the body of POST /api/mpesa/stkpush, shared by the bridge
// and its clients.
type PaymentRequest struct {
	PhoneNumber      MSISDN `json:"phoneNumber" validate:"required,msisdn"`
	Amount           int64  `json:"amount" validate:"required,gt=0"`
	AccountReference string `json:"accountReference,omitempty" validate:"max=64"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
		return MSISDN(fl.Field().String()).Valid()
	})
	return v
}

// Missing reports whether a required field is absent. Zero counts as absent.
func (r PaymentRequest) Missing() bool {
	return r.PhoneNumber.IsZero() || r.Amount == 0
}

func (r PaymentRequest) WithDefaults() PaymentRequest {
	if strings.TrimSpace(r.AccountReference) == "" {
		r.AccountReference = DefaultAccountReference
	}
	return r
}

// Validate checks the shape of each field. Presence is checked separately by Missing.
func (r PaymentRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		switch fe.Field() {
		case "PhoneNumber":
			return ErrInvalidPhone
		case "Amount":
			return ErrInvalidAmount
		case "AccountReference":
			return fmt.Errorf("%w: %s", ErrInvalidReference, fe.Tag())
		}
	}
	return err
}
