// Package registry owns the canonical list of sources and orchestrates the
// engines that resolve them, the persistence of the list and the change
// notifications consumed by the broadcast layer.
package registry

import (
	"context"
	"errors"

	"github.com/headerkit/source-agent/internal/httpengine"
	"github.com/headerkit/source-agent/internal/source"
)

// ErrNoTester is returned by TestHTTPRequest when no HTTP engine is configured
var ErrNoTester = errors.New("http testing is not available")

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go Service

// Service defines the source operations exposed to the control surface
type Service interface {
	// Create adds a source, or returns the existing one with the same identity
	Create(ctx context.Context, req source.CreateRequest) (*source.Source, error)

	// Remove cancels the watches of id and deletes it
	Remove(ctx context.Context, id string) bool

	// RefreshNow forces one off-schedule read of id
	RefreshNow(ctx context.Context, id string) bool

	// UpdateRefreshOptions changes the refresh interval (minutes) of id
	UpdateRefreshOptions(ctx context.Context, id string, interval int) bool

	// TestHTTPRequest runs one request without touching the registry
	TestHTTPRequest(ctx context.Context, req source.CreateRequest) (*httpengine.TestResult, error)

	// Export writes the portable form of every source to path
	Export(ctx context.Context, path string) (int, error)

	// Import creates every source described in the file at path
	Import(ctx context.Context, path string) ([]source.Source, error)

	// Sources returns a copy of the current list
	Sources() []source.Source

	// Get returns a copy of one source
	Get(id string) (source.Source, bool)
}

// HTTPTester runs one-off HTTP requests
type HTTPTester interface {
	Test(ctx context.Context, req source.CreateRequest) (*httpengine.TestResult, error)
}
