package source

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks -source=engine.go Engine,Sink

// Descriptor is the copy of a source that an engine keeps for scheduling.
// Engines never hold a pointer to the registry's canonical Source.
type Descriptor struct {
	ID             string
	Type           Type
	Path           string
	Method         string
	RequestOptions RequestOptions
	JSONFilter     JSONFilter
	RefreshOptions RefreshOptions
}

// WatchOptions tells an engine how a watch was started
type WatchOptions struct {
	// FetchNow requests one synchronous fetch before the watch returns.
	// It is set for brand-new sources and unset on cold restart.
	FetchNow bool
}

// Engine resolves the content of one type of source
type Engine interface {
	// Watch registers the descriptor and arms any schedule it needs
	Watch(ctx context.Context, desc Descriptor, opts WatchOptions) error

	// Unwatch cancels every timer and watch held for the source id
	Unwatch(id string)

	// Refresh forces one off-schedule read of the source
	Refresh(ctx context.Context, id string) error

	// Dispose releases every resource held by the engine
	Dispose()
}

// Sink receives content produced by engines.
// Both methods return false when the id is no longer known to the registry.
type Sink interface {
	UpdateContent(id, content string, originalResponse *string) bool
	UpdateRefreshTimes(id string, last, next *time.Time) bool
}
