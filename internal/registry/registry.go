package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/headerkit/source-agent/internal/events"
	"github.com/headerkit/source-agent/internal/httpengine"
	"github.com/headerkit/source-agent/internal/source"
	"github.com/headerkit/source-agent/internal/storage"
)

// DefaultDedupeWindow is the window in which an identical content update is
// treated as a duplicate
const DefaultDedupeWindow = time.Second

type recentUpdate struct {
	length  int
	content string
	at      time.Time
}

// Registry is the single owner of Source entities. It implements source.Sink
// for the engines and Service for the control surface.
//
// The list is guarded by mu. Every read-modify-write happens in one critical
// section; persistence, engine calls and notifications run after it, from a
// snapshot.
type Registry struct {
	store        storage.SourceStore
	writer       *storage.AtomicWriter
	bus          *events.Bus
	tester       HTTPTester
	now          func() time.Time
	dedupeWindow time.Duration

	mu      sync.Mutex
	sources []source.Source
	lastID  uint64
	recent  map[string]recentUpdate
	engines map[source.Type]source.Engine
	version uint64

	// saveMu orders saves so an older snapshot never overwrites a newer one
	saveMu       sync.Mutex
	savedVersion uint64
}

var (
	_ Service     = (*Registry)(nil)
	_ source.Sink = (*Registry)(nil)
)

// Option configures a Registry
type Option func(*Registry)

// WithEventBus publishes change notifications on bus
func WithEventBus(bus *events.Bus) Option {
	return func(r *Registry) {
		r.bus = bus
	}
}

// WithHTTPTester enables TestHTTPRequest
func WithHTTPTester(t HTTPTester) Option {
	return func(r *Registry) {
		r.tester = t
	}
}

// WithDedupeWindow overrides DefaultDedupeWindow
func WithDedupeWindow(d time.Duration) Option {
	return func(r *Registry) {
		r.dedupeWindow = d
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry persisting to store. The writer is used for
// export and import files.
func New(store storage.SourceStore, writer *storage.AtomicWriter, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("source store is required")
	}
	if writer == nil {
		return nil, fmt.Errorf("atomic writer is required")
	}

	r := &Registry{
		store:        store,
		writer:       writer,
		now:          time.Now,
		dedupeWindow: DefaultDedupeWindow,
		recent:       make(map[string]recentUpdate),
		engines:      make(map[source.Type]source.Engine),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RegisterEngine sets the engine that resolves sources of type t
func (r *Registry) RegisterEngine(t source.Type, engine source.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[t] = engine
}

// Load reads the persisted list and re-arms every watch without an
// immediate HTTP fetch. It is called once at startup.
func (r *Registry) Load(ctx context.Context) error {
	loaded, err := r.store.Load(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.sources = loaded
	for i := range loaded {
		if n, err := strconv.ParseUint(loaded[i].ID, 10, 64); err == nil && n > r.lastID {
			r.lastID = n
		}
	}
	snapshot := source.CloneAll(r.sources)
	r.mu.Unlock()

	slog.Info("Loaded sources", "count", len(snapshot), "path", r.store.Path())

	for i := range snapshot {
		if err := r.startWatch(ctx, &snapshot[i], source.WatchOptions{}); err != nil {
			slog.Warn("Failed to watch source", "source_id", snapshot[i].ID, "error", err)
		}
	}

	r.publish(events.SourcesLoaded, "")
	return nil
}

// Create validates req and adds a source. A source with the same type, path
// and (for http) method is returned unchanged instead of being duplicated.
func (r *Registry) Create(ctx context.Context, req source.CreateRequest) (*source.Source, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if idx := r.matchLocked(req.Type, req.Path, req.Method); idx >= 0 {
		existing := r.sources[idx].Clone()
		r.mu.Unlock()
		return &existing, nil
	}

	r.lastID++
	created := source.Source{
		ID:             strconv.FormatUint(r.lastID, 10),
		Type:           req.Type,
		Path:           req.Path,
		Tag:            req.Tag,
		Method:         req.Method,
		Content:        req.InitialContent,
		RequestOptions: req.RequestOptions,
		JSONFilter:     req.JSONFilter,
		RefreshOptions: source.RefreshOptions{Interval: req.RefreshOptions.Interval},
	}
	r.sources = append(r.sources, created.Clone())
	version, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	slog.Info("Source created", "source_id", created.ID, "type", created.Type, "path", created.Path)
	r.persist(ctx, version, snapshot)
	r.publish(events.SourceUpdated, created.ID)

	if err := r.startWatch(ctx, &created, source.WatchOptions{FetchNow: true}); err != nil {
		slog.Warn("Failed to watch source", "source_id", created.ID, "error", err)
	}

	if current, ok := r.Get(created.ID); ok {
		return &current, nil
	}
	// Removed while the first fetch was running.
	return &created, nil
}

// UpdateContent applies content produced by an engine. Identical content for
// the same id inside the dedupe window is not persisted or announced again,
// but source:refreshed is always emitted.
func (r *Registry) UpdateContent(id, content string, originalResponse *string) bool {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}

	now := r.now()
	prev, seen := r.recent[id]
	duplicate := seen && prev.length == len(content) && prev.content == content &&
		now.Sub(prev.at) < r.dedupeWindow
	r.recent[id] = recentUpdate{length: len(content), content: content, at: now}

	var (
		version  uint64
		snapshot []source.Source
	)
	if !duplicate {
		s := &r.sources[idx]
		s.Content = content
		if originalResponse != nil {
			s.OriginalResponse = *originalResponse
		}
		version, snapshot = r.snapshotLocked()
	}
	r.mu.Unlock()

	if !duplicate {
		r.persist(context.Background(), version, snapshot)
		r.publish(events.SourceUpdated, id)
	}
	r.publish(events.SourceRefreshed, id)
	return true
}

// UpdateRefreshTimes stores the schedule anchors written back by an engine
func (r *Registry) UpdateRefreshTimes(id string, last, next *time.Time) bool {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	s := &r.sources[idx]
	s.RefreshOptions.LastRefresh = copyTime(last)
	s.RefreshOptions.NextRefresh = copyTime(next)
	version, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(context.Background(), version, snapshot)
	r.publish(events.SourceUpdated, id)
	return true
}

// Remove unwatches and deletes id
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	removed := r.sources[idx]
	r.sources = append(r.sources[:idx], r.sources[idx+1:]...)
	delete(r.recent, id)
	engine := r.engines[removed.Type]
	version, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if engine != nil {
		engine.Unwatch(id)
	}

	slog.Info("Source removed", "source_id", id)
	r.persist(ctx, version, snapshot)
	r.publish(events.SourceRemoved, id)
	return true
}

// RefreshNow forces one read of id. The schedule anchors are left untouched.
func (r *Registry) RefreshNow(ctx context.Context, id string) bool {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	engine := r.engines[r.sources[idx].Type]
	r.mu.Unlock()

	if engine == nil {
		slog.Warn("No engine for source", "source_id", id)
		return true
	}
	if err := engine.Refresh(ctx, id); err != nil {
		slog.Warn("Refresh failed", "source_id", id, "error", err)
	}
	return true
}

// UpdateRefreshOptions stores a new interval and re-anchors nextRefresh to
// now + interval (cleared for 0). Only http sources are re-armed; file and
// env sources are change-driven and have no schedule.
func (r *Registry) UpdateRefreshOptions(ctx context.Context, id string, interval int) bool {
	if interval < 0 {
		return false
	}

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	s := &r.sources[idx]
	s.RefreshOptions.Interval = interval
	if interval > 0 {
		next := r.now().Add(s.RefreshOptions.IntervalDuration())
		s.RefreshOptions.NextRefresh = &next
	} else {
		s.RefreshOptions.NextRefresh = nil
	}
	updated := s.Clone()
	engine := r.engines[s.Type]
	version, snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(ctx, version, snapshot)

	if engine != nil && updated.Type == source.TypeHTTP {
		if err := engine.Watch(ctx, updated.Descriptor(), source.WatchOptions{}); err != nil {
			slog.Warn("Failed to re-arm schedule", "source_id", id, "error", err)
		}
	}

	r.publish(events.SourceRefreshOptionsUpdated, id)
	return true
}

// TestHTTPRequest runs req once through templating and filtering
func (r *Registry) TestHTTPRequest(ctx context.Context, req source.CreateRequest) (*httpengine.TestResult, error) {
	if r.tester == nil {
		return nil, ErrNoTester
	}
	return r.tester.Test(ctx, req)
}

// Export writes the portable descriptors of every source to path
func (r *Registry) Export(ctx context.Context, path string) (int, error) {
	list := r.Sources()
	portables := make([]source.Portable, 0, len(list))
	for i := range list {
		portables = append(portables, list[i].ToPortable())
	}

	if err := r.writer.WriteJSON(ctx, path, portables); err != nil {
		return 0, fmt.Errorf("failed to export sources: %w", err)
	}
	slog.Info("Exported sources", "count", len(portables), "path", path)
	return len(portables), nil
}

// Import creates every descriptor in the file at path. Invalid entries are
// skipped; existing sources are returned as they are.
func (r *Registry) Import(ctx context.Context, path string) ([]source.Source, error) {
	var portables []source.Portable
	found, err := r.writer.ReadJSON(ctx, path, &portables)
	if err != nil {
		return nil, fmt.Errorf("failed to import sources: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("import file %s: %w", path, fs.ErrNotExist)
	}

	imported := make([]source.Source, 0, len(portables))
	for i, p := range portables {
		created, err := r.Create(ctx, p.CreateRequest())
		if err != nil {
			slog.Warn("Skipping invalid import entry", "index", i, "path", p.Path, "error", err)
			continue
		}
		imported = append(imported, *created)
	}

	slog.Info("Imported sources", "count", len(imported), "path", path)
	return imported, nil
}

// Sources returns a deep copy of the list
func (r *Registry) Sources() []source.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return source.CloneAll(r.sources)
}

// Get returns a deep copy of id
func (r *Registry) Get(id string) (source.Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return source.Source{}, false
	}
	return r.sources[idx].Clone(), true
}

// Close disposes every registered engine
func (r *Registry) Close() {
	r.mu.Lock()
	engines := make([]source.Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	for _, e := range engines {
		e.Dispose()
	}
}

func (r *Registry) startWatch(ctx context.Context, s *source.Source, opts source.WatchOptions) error {
	r.mu.Lock()
	engine := r.engines[s.Type]
	r.mu.Unlock()

	if engine == nil {
		return fmt.Errorf("no engine registered for %q sources", s.Type)
	}
	return engine.Watch(ctx, s.Descriptor(), opts)
}

func (r *Registry) indexLocked(id string) int {
	for i := range r.sources {
		if r.sources[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) matchLocked(t source.Type, path, method string) int {
	for i := range r.sources {
		if r.sources[i].Matches(t, path, method) {
			return i
		}
	}
	return -1
}

func (r *Registry) snapshotLocked() (uint64, []source.Source) {
	r.version++
	return r.version, source.CloneAll(r.sources)
}

func (r *Registry) persist(ctx context.Context, version uint64, snapshot []source.Source) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	if version <= r.savedVersion {
		return
	}
	if err := r.store.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		slog.Error("Failed to persist sources", "path", r.store.Path(), "error", err)
		return
	}
	r.savedVersion = version
}

func (r *Registry) publish(name events.Name, id string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{Name: name, SourceID: id, Time: r.now().UTC()})
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
