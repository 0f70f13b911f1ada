// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package recovery implements the password recovery link handshake: the
// redirect of inbound recovery links to the update page and the page-level
// state machine that exchanges the code and sets the new password.
package recovery

import (
	"net/url"
	"strings"

	"codeberg.org/oliverandrich/taxijobs/internal/config"
)

// Rules maps recovery link entry paths to the one canonical update page.
type Rules struct {
	Destination string
	EntryPaths  []string
}

// RulesFromConfig builds the rules for the configured entry paths.
func RulesFromConfig(cfg *config.RecoveryConfig) Rules {
	paths := make([]string, 0, len(cfg.EntryPaths))
	for _, p := range cfg.EntryPaths {
		paths = append(paths, normalizePath(p))
	}
	return Rules{
		Destination: config.UpdatePasswordPath,
		EntryPaths:  paths,
	}
}

// Match reports whether path is a recognized entry path.
func (r Rules) Match(path string) bool {
	path = normalizePath(path)
	if path == normalizePath(r.Destination) {
		return false
	}
	for _, p := range r.EntryPaths {
		if normalizePath(p) == path {
			return true
		}
	}
	return false
}

// Target returns the canonical update URL carrying code and, when set, its
// type. Both values are forwarded unchanged.
func (r Rules) Target(code, codeType string) string {
	q := url.Values{}
	q.Set("code", code)
	if codeType != "" {
		q.Set("type", codeType)
	}
	return r.Destination + "?" + q.Encode()
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}
