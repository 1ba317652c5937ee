package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/filecrate/crate"
)

// parsePath parses /api/v1/uploads/{id} or /api/v1/uploads/{id}/{action}
func parsePath(path string) (id string, action string, err error) {
	path = strings.TrimPrefix(path, "/api/v1/uploads")
	path = strings.Trim(path, "/")

	if path == "" {
		return "", "", nil
	}

	parts := strings.Split(path, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid path format")
	}
}

// parsePagination extracts page and items_per_page from query parameters
func parsePagination(queryParams url.Values) (int, int) {
	page := 1
	itemsPerPage := 20

	if p := queryParams.Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	if ipp := queryParams.Get("items_per_page"); ipp != "" {
		if parsed, err := strconv.Atoi(ipp); err == nil && parsed > 0 {
			if parsed > 200 {
				parsed = 200
			}
			itemsPerPage = parsed
		}
	}

	return page, itemsPerPage
}

// APIResponse is the standard response format
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return writeJSON(w, statusCode, APIResponse{Success: true, Data: data})
}

// writeError maps an error to the right HTTP status and response body.
func writeError(w http.ResponseWriter, err error) error {
	var ce *crate.CrateError
	if errors.As(err, &ce) {
		return writeJSON(w, statusForError(ce), APIResponse{
			Success: false,
			Error:   ce.Message,
			Code:    ce.Code,
			Details: ce.Details,
		})
	}
	return writeJSON(w, http.StatusInternalServerError, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeErrorMessage writes a plain error response with an explicit status.
func writeErrorMessage(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{Success: false, Error: message})
}

// statusForError maps error taxonomy to HTTP status codes. Conflicts carry
// 409 so the dashboard can prompt for a resolution action.
func statusForError(ce *crate.CrateError) int {
	switch {
	case ce.Code == crate.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case crate.IsConflictError(ce):
		return http.StatusConflict
	case crate.IsNotFoundError(ce):
		return http.StatusNotFound
	case crate.IsValidationError(ce):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseUUID parses a UUID string
func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// readJSONBody reads and decodes JSON from request body
func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
