// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package tracking

import "sync"

// AppInfo seeds the super properties.
type AppInfo struct {
	Environment string
	Name        string
	Version     string
	GitBranch   string
	GitSHA      string
}

// SuperProperties is merged under every outgoing event. One instance is
// created at startup and shared by reference; Register and Unregister mutate
// it in place.
type SuperProperties struct {
	mu    sync.RWMutex
	props Properties
}

// NewSuperProperties seeds environment and app_name, plus app_version,
// git_branch and git_sha when set.
func NewSuperProperties(info AppInfo) *SuperProperties {
	props := Properties{
		"environment": String(info.Environment),
		"app_name":    String(info.Name),
	}
	if info.Version != "" {
		props["app_version"] = String(info.Version)
	}
	if info.GitBranch != "" {
		props["git_branch"] = String(info.GitBranch)
	}
	if info.GitSHA != "" {
		props["git_sha"] = String(info.GitSHA)
	}
	return &SuperProperties{props: props}
}

// Register normalizes props and merges them in, overwriting existing keys.
func (s *SuperProperties) Register(props Properties) {
	normalized := Normalize(props)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range normalized {
		s.props[k] = v
	}
}

// Unregister removes key.
func (s *SuperProperties) Unregister(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.props, key)
}

// Snapshot returns a copy of the current set.
func (s *SuperProperties) Snapshot() Properties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.Clone()
}

// Apply returns props layered over the super properties, then normalized.
// Event values win on conflicts.
func (s *SuperProperties) Apply(props Properties) Properties {
	if s == nil {
		return Normalize(props)
	}
	s.mu.RLock()
	merged := s.props.Merge(props)
	s.mu.RUnlock()
	return Normalize(merged)
}
