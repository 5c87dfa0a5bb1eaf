package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

const defaultContentType = "application/octet-stream"

// DetectContentType guesses a media type from a blob name's extension
func DetectContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return defaultContentType
	}
	if isTextLike(ext) {
		return "text/plain; charset=utf-8"
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return defaultContentType
}

// manifests and descriptors that mime doesn't know about
func isTextLike(ext string) bool {
	switch ext {
	case ".yaml", ".yml", ".toml", ".md", ".pom", ".mod", ".sum":
		return true
	}
	return false
}
