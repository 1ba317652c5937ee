package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/filecrate/crate"
)

// handleUploads dispatches /api/v1/uploads and /api/v1/uploads/{id}[/{action}]
func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	id, action, err := parsePath(r.URL.Path)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err))
		return
	}

	switch {
	case id == "" && r.Method == http.MethodPost:
		s.handleUploadCreate(w, r)
	case id == "" && r.Method == http.MethodGet:
		s.handleUploadList(w, r)
	case id != "" && action == "" && r.Method == http.MethodGet:
		s.handleUploadGet(w, r, id)
	case id != "" && action == "" && r.Method == http.MethodDelete:
		s.handleUploadDelete(w, r, id)
	case id != "" && action == "resolve" && r.Method == http.MethodPost:
		s.handleUploadResolve(w, r, id)
	default:
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleUploadCreate handles POST /api/v1/uploads (multipart or raw body)
func (s *Server) handleUploadCreate(w http.ResponseWriter, r *http.Request) {
	req, err := s.readUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), req)
	if err != nil {
		// A conflict still carries the comparison so the client can pick
		// an action; everything else is a plain error.
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, result)
}

// readUpload extracts the file from a multipart form, falling back to the
// raw request body with the file name taken from the query string.
func (s *Server) readUpload(r *http.Request) (*crate.IngestRequest, error) {
	maxSize := s.cfg.Ingest.MaxFileSizeBytes
	r.Body = http.MaxBytesReader(nil, r.Body, maxSize+1)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxSize); err != nil {
			return nil, crate.NewValidationError("file", fmt.Sprintf("invalid multipart form: %v", err))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, crate.NewValidationError("file", "multipart form is missing the file field")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, crate.NewInternalError("failed to read uploaded file", err)
		}
		return &crate.IngestRequest{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
			OnConflict:  crate.ConflictAction(r.FormValue("on_conflict")),
		}, nil
	}

	fileName := r.URL.Query().Get("file_name")
	if fileName == "" {
		return nil, crate.NewValidationError("file_name", "file_name query parameter is required for raw uploads")
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, crate.NewInternalError("failed to read request body", err)
	}
	return &crate.IngestRequest{
		FileName:    fileName,
		ContentType: contentType,
		Data:        data,
		OnConflict:  crate.ConflictAction(r.URL.Query().Get("on_conflict")),
	}, nil
}

// handleUploadList handles GET /api/v1/uploads?page=...&items_per_page=...&file_kind=...
func (s *Server) handleUploadList(w http.ResponseWriter, r *http.Request) {
	queryParams := r.URL.Query()
	page, itemsPerPage := parsePagination(queryParams)

	result, err := s.ingestor.ListUploads(r.Context(), crate.ListRequest{
		Page:         page,
		ItemsPerPage: itemsPerPage,
		FileKind:     crate.FileKind(queryParams.Get("file_kind")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleUploadGet handles GET /api/v1/uploads/{id}
func (s *Server) handleUploadGet(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := parseUUID(idStr)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid upload id: %v", err))
		return
	}

	record, err := s.ingestor.GetUpload(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, record)
}

// handleUploadDelete handles DELETE /api/v1/uploads/{id}
func (s *Server) handleUploadDelete(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := parseUUID(idStr)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid upload id: %v", err))
		return
	}

	if err := s.ingestor.DeleteUpload(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"deleted": idStr})
}

// handleUploadResolve handles POST /api/v1/uploads/{id}/resolve
func (s *Server) handleUploadResolve(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := parseUUID(idStr)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid upload id: %v", err))
		return
	}

	var body struct {
		Action crate.ConflictAction `json:"action"`
	}
	if err := readJSONBody(r, &body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}
	if body.Action == "" {
		writeErrorMessage(w, http.StatusBadRequest, "action is required")
		return
	}

	result, err := s.ingestor.Resolve(r.Context(), &crate.ResolveRequest{
		UploadID: id,
		Action:   body.Action,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleClassify handles POST /api/v1/classify: a dry run that analyzes a
// payload without persisting anything.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	fileName := r.URL.Query().Get("file_name")
	if fileName == "" {
		fileName = "payload.json"
	}
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, s.cfg.Ingest.MaxFileSizeBytes+1))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
		return
	}
	r.Body.Close()

	result, err := s.ingestor.Classify(fileName, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.ingestor.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, stats)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}
