package httpengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headerkit/source-agent/internal/source"
)

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	at59 := time.Unix(59, 0)

	tests := []struct {
		name        string
		desc        source.Descriptor
		wantMethod  string
		wantURL     string
		wantHeaders map[string]string
		wantBody    string
	}{
		{
			name: "variables in url headers and query",
			desc: source.Descriptor{
				Path:   "https://{{host}}/v1/{{ resource }}",
				Method: "GET",
				RequestOptions: source.RequestOptions{
					Headers:     []source.KeyValue{{Key: "Authorization", Value: "Bearer {{token}}"}},
					QueryParams: []source.KeyValue{{Key: "env", Value: "{{env}}"}},
					Variables: []source.KeyValue{
						{Key: "host", Value: "api.example.com"},
						{Key: "resource", Value: "users"},
						{Key: "token", Value: "abc"},
						{Key: "env", Value: "prod"},
					},
				},
			},
			wantMethod:  "GET",
			wantURL:     "https://api.example.com/v1/users?env=prod",
			wantHeaders: map[string]string{"Authorization": "Bearer abc"},
		},
		{
			name: "unknown variable is left in place",
			desc: source.Descriptor{
				Path:   "https://api.example.com/x",
				Method: "GET",
				RequestOptions: source.RequestOptions{
					Headers: []source.KeyValue{{Key: "X-Trace", Value: "{{missing}}"}},
				},
			},
			wantMethod:  "GET",
			wantURL:     "https://api.example.com/x",
			wantHeaders: map[string]string{"X-Trace": "{{missing}}"},
		},
		{
			name: "default totp in header",
			desc: source.Descriptor{
				Path:   "https://api.example.com/otp",
				Method: "GET",
				RequestOptions: source.RequestOptions{
					Headers:    []source.KeyValue{{Key: "X-OTP", Value: "_TOTP_CODE"}},
					TOTPSecret: "JBSWY3DPEHPK3PXP",
				},
			},
			wantMethod:  "GET",
			wantURL:     "https://api.example.com/otp",
			wantHeaders: map[string]string{"X-OTP": "996554"},
		},
		{
			name: "positional totp parameters override the secret",
			desc: source.Descriptor{
				Path:   "https://api.example.com/otp",
				Method: "GET",
				RequestOptions: source.RequestOptions{
					QueryParams: []source.KeyValue{{Key: "code", Value: "_TOTP_CODE(GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ,30,8)"}},
				},
			},
			wantMethod: "GET",
			wantURL:    "https://api.example.com/otp?code=94287082",
		},
		{
			name: "body is sent for POST with content type",
			desc: source.Descriptor{
				Path:   "https://api.example.com/login",
				Method: "POST",
				RequestOptions: source.RequestOptions{
					Body:        `{"user":"{{user}}","otp":"_TOTP_CODE(digits=8, period=60)"}`,
					ContentType: "application/json",
					TOTPSecret:  "JBSWY3DPEHPK3PXP",
					Variables:   []source.KeyValue{{Key: "user", Value: "ada"}},
				},
			},
			wantMethod:  "POST",
			wantURL:     "https://api.example.com/login",
			wantHeaders: map[string]string{"Content-Type": "application/json"},
			wantBody:    `{"user":"ada","otp":"63282760"}`,
		},
		{
			name: "body is dropped for GET",
			desc: source.Descriptor{
				Path:   "https://api.example.com/get",
				Method: "GET",
				RequestOptions: source.RequestOptions{
					Body:        "ignored",
					ContentType: "text/plain",
				},
			},
			wantMethod: "GET",
			wantURL:    "https://api.example.com/get",
		},
		{
			name:       "empty method defaults to GET",
			desc:       source.Descriptor{Path: "https://api.example.com/"},
			wantMethod: "GET",
			wantURL:    "https://api.example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, err := BuildRequest(tt.desc, at59)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, tt.wantURL, req.URL)
			for k, v := range tt.wantHeaders {
				assert.Equal(t, v, req.Headers.Get(k), "header %s", k)
			}
			assert.Equal(t, tt.wantBody, string(req.Body))
		})
	}
}

func TestBuildRequest_SameCodeWithinOneBuild(t *testing.T) {
	t.Parallel()

	desc := source.Descriptor{
		Path:   "https://api.example.com/otp?a=_TOTP_CODE",
		Method: "GET",
		RequestOptions: source.RequestOptions{
			Headers:    []source.KeyValue{{Key: "X-OTP", Value: "_TOTP_CODE"}},
			TOTPSecret: "JBSWY3DPEHPK3PXP",
		},
	}

	req, err := BuildRequest(desc, time.Unix(1234567890, 0))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/otp?a=742275", req.URL)
	assert.Equal(t, "742275", req.Headers.Get("X-OTP"))
}

func TestBuildRequest_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    source.RequestOptions
		path    string
		wantErr string
	}{
		{
			name:    "totp without secret",
			path:    "https://api.example.com/?c=_TOTP_CODE",
			wantErr: "no TOTP secret is configured",
		},
		{
			name:    "unknown totp parameter",
			path:    "https://api.example.com/",
			opts:    source.RequestOptions{TOTPSecret: "JBSWY3DPEHPK3PXP", Headers: []source.KeyValue{{Key: "X", Value: "_TOTP_CODE(algo=sha256)"}}},
			wantErr: "unknown _TOTP_CODE parameter",
		},
		{
			name:    "invalid digits",
			path:    "https://api.example.com/",
			opts:    source.RequestOptions{TOTPSecret: "JBSWY3DPEHPK3PXP", Headers: []source.KeyValue{{Key: "X", Value: "_TOTP_CODE(digits=two)"}}},
			wantErr: "invalid _TOTP_CODE digits",
		},
		{
			name:    "too many positional arguments",
			path:    "https://api.example.com/",
			opts:    source.RequestOptions{Headers: []source.KeyValue{{Key: "X", Value: "_TOTP_CODE(A,30,6,1)"}}},
			wantErr: "too many _TOTP_CODE arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := BuildRequest(source.Descriptor{Path: tt.path, Method: "GET", RequestOptions: tt.opts}, time.Unix(59, 0))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
