package source

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

var allowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

// templateToken matches {{variable}} and _TOTP_CODE(...) placeholders
var templateToken = regexp.MustCompile(`\{\{[^}]*\}\}|_TOTP_CODE(\([^)]*\))?`)

// CreateRequest carries the arguments of a create operation
type CreateRequest struct {
	Type           Type           `json:"type"`
	Path           string         `json:"path"`
	Tag            string         `json:"tag,omitempty"`
	Method         string         `json:"method,omitempty"`
	RequestOptions RequestOptions `json:"requestOptions"`
	RefreshOptions RefreshOptions `json:"refreshOptions"`
	JSONFilter     JSONFilter     `json:"jsonFilter"`
	InitialContent string         `json:"initialContent,omitempty"`
}

// Normalize trims the request and fills defaults
func (r *CreateRequest) Normalize() {
	r.Path = strings.TrimSpace(r.Path)
	r.Tag = strings.TrimSpace(r.Tag)
	if r.Type == TypeHTTP {
		r.Method = normalizeMethod(r.Method)
	} else {
		r.Method = ""
	}
	if !r.JSONFilter.Enabled {
		r.JSONFilter.Path = ""
	}
	// Only the interval is accepted from callers; timestamps belong to the engine.
	r.RefreshOptions = RefreshOptions{Interval: r.RefreshOptions.Interval}
}

// Validate checks the request; every error wraps ErrValidation
func (r *CreateRequest) Validate() error {
	switch r.Type {
	case TypeFile, TypeEnv, TypeHTTP:
	case "":
		return fmt.Errorf("%w: type is required", ErrValidation)
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrValidation, r.Type)
	}

	if strings.TrimSpace(r.Path) == "" {
		return fmt.Errorf("%w: path is required", ErrValidation)
	}

	if r.Type == TypeHTTP {
		if err := validateURL(r.Path); err != nil {
			return err
		}
		if m := normalizeMethod(r.Method); !slices.Contains(allowedMethods, m) {
			return fmt.Errorf("%w: unsupported method %q", ErrValidation, r.Method)
		}
	}

	if r.RefreshOptions.Interval < 0 {
		return fmt.Errorf("%w: refresh interval must not be negative", ErrValidation)
	}

	if r.JSONFilter.Enabled && strings.TrimSpace(r.JSONFilter.Path) == "" {
		return fmt.Errorf("%w: json filter is enabled but has no path", ErrValidation)
	}

	return nil
}

// validateURL accepts absolute http(s) URLs. Template tokens are allowed anywhere.
func validateURL(raw string) error {
	u, err := url.Parse(templateToken.ReplaceAllString(raw, "x"))
	if err != nil {
		return fmt.Errorf("%w: invalid url %q: %v", ErrValidation, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url must use http or https, got %q", ErrValidation, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host: %q", ErrValidation, raw)
	}
	return nil
}

func normalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return DefaultMethod
	}
	return m
}
