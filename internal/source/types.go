// Package source defines the Source data model shared by the registry, the
// persistence layer, the readers and the HTTP polling engine.
package source

import (
	"errors"
	"time"
)

// Type identifies which engine resolves a source
type Type string

const (
	// TypeFile resolves the content of a local file
	TypeFile Type = "file"

	// TypeEnv resolves the value of an environment variable
	TypeEnv Type = "env"

	// TypeHTTP resolves the (optionally filtered) body of an HTTP endpoint
	TypeHTTP Type = "http"
)

// DefaultMethod is the HTTP method used when none is supplied
const DefaultMethod = "GET"

var (
	// ErrValidation is wrapped by every validation failure
	ErrValidation = errors.New("invalid source")

	// ErrNotFound is returned when a source id is unknown
	ErrNotFound = errors.New("source not found")
)

// KeyValue is an ordered name/value pair used for headers, query params and variables
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RequestOptions holds everything needed to build an HTTP request for a source
type RequestOptions struct {
	Headers     []KeyValue `json:"headers,omitempty"`
	QueryParams []KeyValue `json:"queryParams,omitempty"`
	Body        string     `json:"body,omitempty"`
	ContentType string     `json:"contentType,omitempty"`

	// TOTPSecret is the base32 secret used by the _TOTP_CODE token
	TOTPSecret string `json:"totpSecret,omitempty"`

	// Variables are substituted literally wherever {{name}} appears
	Variables []KeyValue `json:"variables,omitempty"`
}

// JSONFilter selects a sub-value of a JSON response body
type JSONFilter struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// RefreshOptions controls scheduled refresh of HTTP sources
type RefreshOptions struct {
	// Interval is the refresh interval in minutes; 0 means manual refresh only
	Interval int `json:"interval"`

	// LastRefresh is the time of the last scheduled refresh
	LastRefresh *time.Time `json:"lastRefresh,omitempty"`

	// NextRefresh is the time the next scheduled refresh is due
	NextRefresh *time.Time `json:"nextRefresh,omitempty"`
}

// IntervalDuration returns the interval as a time.Duration
func (r RefreshOptions) IntervalDuration() time.Duration {
	return time.Duration(r.Interval) * time.Minute
}

// Source is a typed reference to an external value whose resolved content is tracked
type Source struct {
	ID               string         `json:"id"`
	Type             Type           `json:"type"`
	Path             string         `json:"path"`
	Tag              string         `json:"tag,omitempty"`
	Method           string         `json:"method,omitempty"`
	Content          string         `json:"content"`
	OriginalResponse string         `json:"originalResponse,omitempty"`
	RequestOptions   RequestOptions `json:"requestOptions"`
	JSONFilter       JSONFilter     `json:"jsonFilter"`
	RefreshOptions   RefreshOptions `json:"refreshOptions"`
}

// Clone returns a deep copy of the source
func (s *Source) Clone() Source {
	c := *s
	c.RequestOptions = s.RequestOptions.clone()
	c.RefreshOptions = s.RefreshOptions.clone()
	return c
}

// Matches reports whether the source is the same logical source as (typ, path, method).
// The method only participates for HTTP sources.
func (s *Source) Matches(typ Type, path, method string) bool {
	if s.Type != typ || s.Path != path {
		return false
	}
	if typ != TypeHTTP {
		return true
	}
	return normalizeMethod(s.Method) == normalizeMethod(method)
}

// Descriptor returns the scheduling descriptor handed to engines
func (s *Source) Descriptor() Descriptor {
	c := s.Clone()
	return Descriptor{
		ID:             c.ID,
		Type:           c.Type,
		Path:           c.Path,
		Method:         normalizeMethod(c.Method),
		RequestOptions: c.RequestOptions,
		JSONFilter:     c.JSONFilter,
		RefreshOptions: c.RefreshOptions,
	}
}

func (r RequestOptions) clone() RequestOptions {
	c := r
	c.Headers = cloneKV(r.Headers)
	c.QueryParams = cloneKV(r.QueryParams)
	c.Variables = cloneKV(r.Variables)
	return c
}

func (r RefreshOptions) clone() RefreshOptions {
	c := r
	if r.LastRefresh != nil {
		t := *r.LastRefresh
		c.LastRefresh = &t
	}
	if r.NextRefresh != nil {
		t := *r.NextRefresh
		c.NextRefresh = &t
	}
	return c
}

func cloneKV(in []KeyValue) []KeyValue {
	if in == nil {
		return nil
	}
	out := make([]KeyValue, len(in))
	copy(out, in)
	return out
}

// CloneAll deep copies a slice of sources
func CloneAll(in []Source) []Source {
	out := make([]Source, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
