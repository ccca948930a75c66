// Package v1 implements the handlers of the control API.
package v1

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/headerkit/source-agent/internal/api/common"
	"github.com/headerkit/source-agent/internal/filtering"
	"github.com/headerkit/source-agent/internal/registry"
	"github.com/headerkit/source-agent/internal/source"
	"github.com/headerkit/source-agent/internal/versions"
)

// Routes handles the source endpoints
type Routes struct {
	service registry.Service
}

// NewRoutes creates the handlers for svc
func NewRoutes(svc registry.Service) *Routes {
	return &Routes{service: svc}
}

// Router creates the /v1 router
func Router(svc registry.Service) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()
	r.Get("/sources", routes.listSources)
	r.Post("/sources", routes.createSource)
	r.Delete("/sources/{id}", routes.removeSource)
	r.Post("/sources/{id}/refresh", routes.refreshSource)
	r.Put("/sources/{id}/refresh-options", routes.updateRefreshOptions)
	r.Post("/http/test", routes.testHTTPRequest)
	r.Post("/export", routes.exportSources)
	r.Post("/import", routes.importSources)
	return r
}

// HealthRouter creates the router for health and version endpoints
func HealthRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

// versionHandler reports build information. With ?min=X it also reports
// whether this build is at least X.
func versionHandler(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{VersionInfo: versions.GetVersionInfo()}
	if minimum := strings.TrimSpace(r.URL.Query().Get("min")); minimum != "" {
		ok := versions.Satisfies(resp.Version, minimum)
		resp.Compatible = &ok
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// listSources returns every source, narrowed by the optional type, tag
// and path query filters
func (rt *Routes) listSources(w http.ResponseWriter, r *http.Request) {
	filter, err := filtering.Compile(filtering.FromQuery(r.URL.Query()))
	if err != nil {
		common.WriteError(w, err)
		return
	}

	sources := filter.Apply(rt.service.Sources())
	common.WriteJSONResponse(w, SourcesResponse{Sources: sources}, http.StatusOK)
}

func (rt *Routes) createSource(w http.ResponseWriter, r *http.Request) {
	var req source.CreateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}

	src, err := rt.service.Create(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSONResponse(w, src, http.StatusCreated)
}

func (rt *Routes) removeSource(w http.ResponseWriter, r *http.Request) {
	id, err := common.SourceIDParam(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if !rt.service.Remove(r.Context(), id) {
		common.WriteError(w, fmt.Errorf("%w: %s", source.ErrNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Routes) refreshSource(w http.ResponseWriter, r *http.Request) {
	id, err := common.SourceIDParam(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if !rt.service.RefreshNow(r.Context(), id) {
		common.WriteError(w, fmt.Errorf("%w: %s", source.ErrNotFound, id))
		return
	}
	rt.writeSource(w, id, http.StatusOK)
}

func (rt *Routes) updateRefreshOptions(w http.ResponseWriter, r *http.Request) {
	id, err := common.SourceIDParam(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}

	var req RefreshOptionsRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if req.Interval == nil {
		common.WriteError(w, fmt.Errorf("%w: interval is required", source.ErrValidation))
		return
	}
	if *req.Interval < 0 {
		common.WriteError(w, fmt.Errorf("%w: refresh interval must not be negative", source.ErrValidation))
		return
	}

	if !rt.service.UpdateRefreshOptions(r.Context(), id, *req.Interval) {
		common.WriteError(w, fmt.Errorf("%w: %s", source.ErrNotFound, id))
		return
	}
	rt.writeSource(w, id, http.StatusOK)
}

func (rt *Routes) testHTTPRequest(w http.ResponseWriter, r *http.Request) {
	var req source.CreateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}

	result, err := rt.service.TestHTTPRequest(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSONResponse(w, result, http.StatusOK)
}

func (rt *Routes) exportSources(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}

	count, err := rt.service.Export(r.Context(), path)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSONResponse(w, ExportResponse{Path: path, Count: count}, http.StatusOK)
}

func (rt *Routes) importSources(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}

	imported, err := rt.service.Import(r.Context(), path)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if imported == nil {
		imported = []source.Source{}
	}
	common.WriteJSONResponse(w, ImportResponse{Count: len(imported), Sources: imported}, http.StatusOK)
}

// writeSource replies with the current state of id. The source can vanish
// between the operation and the read, which is reported as not found.
func (rt *Routes) writeSource(w http.ResponseWriter, id string, status int) {
	src, ok := rt.service.Get(id)
	if !ok {
		common.WriteError(w, fmt.Errorf("%w: %s", source.ErrNotFound, id))
		return
	}
	common.WriteJSONResponse(w, src, status)
}

func decodePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req PathRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return "", false
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		common.WriteError(w, fmt.Errorf("%w: path is required", source.ErrValidation))
		return "", false
	}
	return path, true
}
