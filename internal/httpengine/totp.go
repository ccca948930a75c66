package httpengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultTOTPPeriod is the default time step in seconds
	DefaultTOTPPeriod = 30

	// DefaultTOTPDigits is the default code length
	DefaultTOTPDigits = 6

	minTOTPDigits = 4
	maxTOTPDigits = 10
)

// GenerateTOTP returns the RFC 6238 HMAC-SHA1 code for secret at t.
// The base32 secret is case-insensitive; padding and spaces are optional.
func GenerateTOTP(secret string, t time.Time, period, digits int) (string, error) {
	normalized := normalizeSecret(secret)
	if normalized == "" {
		return "", fmt.Errorf("TOTP secret is empty")
	}
	if period <= 0 {
		return "", fmt.Errorf("TOTP period must be positive, got %d", period)
	}
	if digits < minTOTPDigits || digits > maxTOTPDigits {
		return "", fmt.Errorf("TOTP digits must be between %d and %d, got %d", minTOTPDigits, maxTOTPDigits, digits)
	}

	code, err := totp.GenerateCodeCustom(normalized, t, totp.ValidateOpts{
		Period:    uint(period),
		Digits:    otp.Digits(digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}

func normalizeSecret(secret string) string {
	s := strings.ToUpper(strings.Join(strings.Fields(secret), ""))
	return strings.TrimRight(s, "=")
}
