// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package assets provides embedded static assets with content-versioned URLs.
package assets

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"net/http"
)

//go:embed static
var staticFS embed.FS

const (
	stylesheet = "static/css/styles.css"
	script     = "static/js/app.js"
)

var (
	cssPath = "/" + stylesheet
	jsPath  = "/" + script
)

func init() {
	cssPath = versioned(stylesheet)
	jsPath = versioned(script)
	slog.Debug("loaded asset paths", "css", cssPath, "js", jsPath)
}

// versioned returns the URL of name with a short content hash appended, or
// the bare URL when the file cannot be read.
func versioned(name string) string {
	data, err := staticFS.ReadFile(name)
	if err != nil {
		slog.Error("failed to read asset", "asset", name, "error", err)
		return "/" + name
	}
	sum := sha256.Sum256(data)
	return "/" + name + "?v=" + hex.EncodeToString(sum[:4])
}

// CSSPath returns the versioned path to the main CSS file.
func CSSPath() string {
	return cssPath
}

// JSPath returns the versioned path to the site script.
func JSPath() string {
	return jsPath
}

// FileServer returns an http.Handler that serves embedded static files.
func FileServer() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("failed to create sub filesystem: " + err.Error())
	}
	return http.FileServer(http.FS(sub))
}
