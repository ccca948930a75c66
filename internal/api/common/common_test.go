package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headerkit/source-agent/internal/registry"
	"github.com/headerkit/source-agent/internal/source"
)

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: fmt.Errorf("%w: path is required", source.ErrValidation), want: http.StatusBadRequest},
		{name: "bad request", err: fmt.Errorf("%w: empty", ErrBadRequest), want: http.StatusBadRequest},
		{name: "json syntax", err: &json.SyntaxError{}, want: http.StatusBadRequest},
		{name: "not found", err: fmt.Errorf("%w: 9", source.ErrNotFound), want: http.StatusNotFound},
		{name: "missing file", err: fmt.Errorf("import: %w", fs.ErrNotExist), want: http.StatusNotFound},
		{name: "no tester", err: registry.ErrNoTester, want: http.StatusServiceUnavailable},
		{name: "other", err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	WriteError(rr, fmt.Errorf("%w: 12", source.ErrNotFound))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "source not found: 12", body.Error)
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Interval int `json:"interval"`
	}

	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "valid", body: `{"interval":5}`, want: 5},
		{name: "empty", body: ``, wantErr: true},
		{name: "unknown field", body: `{"interval":5,"extra":true}`, wantErr: true},
		{name: "wrong type", body: `{"interval":"five"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := DecodeJSON(req, &p)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Interval)
		})
	}
}

func TestSourceIDParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		want    string
		wantErr error
	}{
		{name: "numeric", id: "42", want: "42"},
		{name: "empty", id: "", wantErr: ErrBadRequest},
		{name: "not numeric", id: "abc", wantErr: source.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.id)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			got, err := SourceIDParam(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
