package common

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/headerkit/source-agent/internal/source"
)

// SourceIDParam extracts the {id} route parameter. Ids are decimal strings;
// anything else cannot name a source and is reported as not found.
func SourceIDParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		return "", fmt.Errorf("%w: id cannot be empty", ErrBadRequest)
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: %s", source.ErrNotFound, id)
		}
	}
	return id, nil
}
