package internal

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/filecrate/crate"
)

// DetectFileKind classifies an upload by extension first, then by content
// sniffing, then by the declared content type. The declared type is the
// least trusted signal since browsers routinely send application/octet-stream.
func DetectFileKind(fileName, declaredType string, data []byte) crate.FileKind {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".json", ".geojson", ".ndjson":
		return crate.FileKindJSON
	case ".csv", ".tsv":
		return crate.FileKindCSV
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".svg":
		return crate.FileKindImage
	case ".txt", ".md", ".log":
		return crate.FileKindText
	}

	sniffed := ""
	if len(data) > 0 {
		sniffed = http.DetectContentType(data)
	}

	// JSON sniffs as text/plain, so specific formats are checked across both
	// signals before the broad prefix classes.
	for _, ct := range []string{sniffed, declaredType} {
		switch {
		case strings.Contains(ct, "json"):
			return crate.FileKindJSON
		case strings.Contains(ct, "csv"):
			return crate.FileKindCSV
		}
	}
	for _, ct := range []string{sniffed, declaredType} {
		switch {
		case strings.HasPrefix(ct, "image/"):
			return crate.FileKindImage
		case strings.HasPrefix(ct, "text/"):
			return crate.FileKindText
		}
	}
	return crate.FileKindOther
}

// FileIdentity derives the logical identity of an upload from its file name:
// the sanitized base name without extension. Re-uploads of the same identity
// trigger schema comparison.
func FileIdentity(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return crate.SanitizeName(base)
}
