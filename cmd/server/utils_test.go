package main

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecrate/crate"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path       string
		wantID     string
		wantAction string
		wantErr    bool
	}{
		{"/api/v1/uploads", "", "", false},
		{"/api/v1/uploads/", "", "", false},
		{"/api/v1/uploads/abc", "abc", "", false},
		{"/api/v1/uploads/abc/resolve", "abc", "resolve", false},
		{"/api/v1/uploads/a/b/c", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, action, err := parsePath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantPage int
		wantIPP  int
	}{
		{"defaults", "", 1, 20},
		{"explicit", "page=3&items_per_page=50", 3, 50},
		{"capped", "items_per_page=500", 1, 200},
		{"garbage ignored", "page=x&items_per_page=-1", 1, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			page, ipp := parsePagination(values)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantIPP, ipp)
		})
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  *crate.CrateError
		want int
	}{
		{"conflict", crate.NewConflictRejectedError("users"), http.StatusConflict},
		{"append mismatch", crate.NewAppendMismatchError(crate.SchemaComparisonResult{}), http.StatusConflict},
		{"not found", crate.NewUploadNotFoundError("x"), http.StatusNotFound},
		{"validation", crate.NewValidationError("f", "bad"), http.StatusBadRequest},
		{"too large", crate.NewFileTooLargeError(10, 5), http.StatusRequestEntityTooLarge},
		{"storage", crate.NewStorageError("boom", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}
