package v1

import (
	"github.com/headerkit/source-agent/internal/source"
	"github.com/headerkit/source-agent/internal/versions"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}

// VersionResponse is the build information, plus the result of the
// ?min= compatibility check when one was requested
type VersionResponse struct {
	versions.VersionInfo
	Compatible *bool `json:"compatible,omitempty"`
}

// RefreshOptionsRequest is the body of PUT /v1/sources/{id}/refresh-options
type RefreshOptionsRequest struct {
	// Interval in minutes; 0 disables scheduled refresh
	Interval *int `json:"interval"`
}

// PathRequest is the body of the export and import endpoints
type PathRequest struct {
	Path string `json:"path"`
}

// ExportResponse reports a completed export
type ExportResponse struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// ImportResponse lists the sources created or matched by an import
type ImportResponse struct {
	Count   int             `json:"count"`
	Sources []source.Source `json:"sources"`
}

// SourcesResponse lists sources
type SourcesResponse struct {
	Sources []source.Source `json:"sources"`
}
