package httpengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTOTP(t *testing.T) {
	t.Parallel()

	const (
		demoSecret = "JBSWY3DPEHPK3PXP"
		rfcSecret  = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	)

	tests := []struct {
		name   string
		secret string
		unix   int64
		period int
		digits int
		want   string
	}{
		{name: "rfc vector t=59", secret: rfcSecret, unix: 59, period: 30, digits: 8, want: "94287082"},
		{name: "rfc vector t=1111111109", secret: rfcSecret, unix: 1111111109, period: 30, digits: 8, want: "07081804"},
		{name: "rfc vector t=1234567890", secret: rfcSecret, unix: 1234567890, period: 30, digits: 8, want: "89005924"},
		{name: "rfc vector t=2000000000", secret: rfcSecret, unix: 2000000000, period: 30, digits: 8, want: "69279037"},
		{name: "six digits keeps leading zero", secret: demoSecret, unix: 1111111109, period: 30, digits: 6, want: "071271"},
		{name: "six digits", secret: demoSecret, unix: 1234567890, period: 30, digits: 6, want: "742275"},
		{name: "sixty second period", secret: demoSecret, unix: 1234567890, period: 60, digits: 8, want: "55997474"},
		{name: "lowercase padded secret", secret: "jbswy3dp ehpk3pxp====", unix: 59, period: 30, digits: 6, want: "996554"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, err := GenerateTOTP(tt.secret, time.Unix(tt.unix, 0), tt.period, tt.digits)
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestGenerateTOTP_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		secret  string
		period  int
		digits  int
		wantErr string
	}{
		{name: "empty secret", secret: "  ", period: 30, digits: 6, wantErr: "secret is empty"},
		{name: "zero period", secret: "JBSWY3DPEHPK3PXP", period: 0, digits: 6, wantErr: "period must be positive"},
		{name: "too few digits", secret: "JBSWY3DPEHPK3PXP", period: 30, digits: 3, wantErr: "digits must be between"},
		{name: "too many digits", secret: "JBSWY3DPEHPK3PXP", period: 30, digits: 11, wantErr: "digits must be between"},
		{name: "not base32", secret: "not-base32!", period: 30, digits: 6, wantErr: "failed to generate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := GenerateTOTP(tt.secret, time.Unix(59, 0), tt.period, tt.digits)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
