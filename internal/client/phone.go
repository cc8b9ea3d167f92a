package client

import (
	"strconv"
	"strings"

	"qshop_backend/internal/domain"
)

const countryCode = "254"

// NormalizePhone rewrites a locally typed number into international form:
// non-digits are dropped, a leading 0 becomes 254 and 254 is prefixed when
// absent. It does not check that the result is a real subscriber number; see
// ValidMSISDN.
func NormalizePhone(raw string) (int64, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return 0, domain.ErrInvalidPhone
	}

	if strings.HasPrefix(digits, "0") {
		digits = countryCode + digits[1:]
	}
	if !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidPhone
	}
	return n, nil
}

func ValidMSISDN(n int64) bool {
	return domain.MSISDN(strconv.FormatInt(n, 10)).Valid()
}
