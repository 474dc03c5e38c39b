// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence enforces evidence-source independence.
//
// The single most important guard in the verdict service lives here: ground
// truth used to score a forecast must never derive, even indirectly, from
// the model producing that forecast. A prior system sourced "truth" from
// the model's own state view and scored itself at a self-referential 100%
// hit rate. The registry makes that structurally impossible: outcomes may
// only cite sources on an explicit allow-list of causally independent
// origins, the check runs before any persistence, and it admits no role or
// credential bypass.
//
// # Registry Semantics
//
//   - Unknown source: rejected (allow-list, deny by default).
//   - Source tagged forecast_derived: rejected.
//   - Source tagged independent: allowed.
//
// Rejection is always ErrIndependenceViolation — a hard failure, never a
// warning.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrIndependenceViolation indicates an outcome cited an evidence source
// that is unknown or derives from model output. Always fatal to the
// recording call; never downgraded to a warning.
var ErrIndependenceViolation = errors.New("evidence independence violation")

// Tag classifies an evidence source's causal relationship to the
// forecasting models.
type Tag string

const (
	// TagIndependent marks a source causally upstream of all models.
	TagIndependent Tag = "independent"

	// TagForecastDerived marks a source that flows from model output.
	TagForecastDerived Tag = "forecast_derived"
)

// Source is one allow-list entry.
type Source struct {
	ID          string `yaml:"id" validate:"required"`
	Description string `yaml:"description"`
	Tag         Tag    `yaml:"tag" validate:"required,oneof=independent forecast_derived"`
}

// registryFile is the YAML document shape.
type registryFile struct {
	Sources []Source `yaml:"sources" validate:"required,min=1,dive"`
}

// Registry is the evidence-source allow-list. Safe for concurrent use;
// lookups take a read lock and reloads swap the map atomically.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source

	logger *slog.Logger
}

// NewRegistry builds a registry from the embedded default allow-list.
func NewRegistry(logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	if err := r.load(EmbeddedSources); err != nil {
		return nil, fmt.Errorf("load embedded evidence sources: %w", err)
	}
	return r, nil
}

// NewRegistryFromFile builds a registry from an operator-provided YAML
// file, merged over the embedded defaults. Forecast-derived entries from
// the embedded list are kept even if the file omits them, so a bad file
// cannot quietly re-admit a model-derived source.
func NewRegistryFromFile(path string, logger *slog.Logger) (*Registry, error) {
	r, err := NewRegistry(logger)
	if err != nil {
		return nil, err
	}
	if err := r.mergeFile(path); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load(raw []byte) error {
	parsed, err := parseSources(raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sources = parsed
	r.mu.Unlock()
	return nil
}

func (r *Registry) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read evidence sources file: %w", err)
	}
	parsed, err := parseSources(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	merged := make(map[string]Source, len(r.sources)+len(parsed))
	for id, s := range parsed {
		merged[id] = s
	}
	// Embedded forecast-derived denials always win.
	for id, s := range r.sources {
		if s.Tag == TagForecastDerived {
			merged[id] = s
		}
	}
	r.sources = merged
	return nil
}

// parseSources unmarshals and validates a registry document.
func parseSources(raw []byte) (map[string]Source, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unmarshal evidence sources: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid evidence sources: %w", err)
	}
	out := make(map[string]Source, len(file.Sources))
	for _, s := range file.Sources {
		if _, dup := out[s.ID]; dup {
			return nil, fmt.Errorf("duplicate evidence source %q", s.ID)
		}
		out[s.ID] = s
	}
	return out, nil
}

// Check verifies that an evidence source may provide ground truth.
//
// Description:
//
//	Returns nil only for sources explicitly tagged independent. Unknown
//	sources and forecast-derived sources fail with
//	ErrIndependenceViolation. There is no caller identity parameter on
//	purpose: no credential can widen the allow-list.
//
// Inputs:
//
//	source - Evidence source identifier cited by an outcome.
//
// Outputs:
//
//	error - nil, or ErrIndependenceViolation (wrapped with detail).
func (r *Registry) Check(source string) error {
	r.mu.RLock()
	s, ok := r.sources[source]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: source %q is not on the independence allow-list", ErrIndependenceViolation, source)
	}
	if s.Tag != TagIndependent {
		return fmt.Errorf("%w: source %q is tagged %s", ErrIndependenceViolation, source, s.Tag)
	}
	return nil
}

// Sources returns a snapshot of the registry entries for the read-only
// admin surface.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// Watch reloads the registry whenever the given file changes, until ctx is
// cancelled. Reload failures keep the previous allow-list; a broken file
// must never widen or empty the registry.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.mergeFile(path); err != nil {
					r.logger.Error("evidence allow-list reload failed, keeping previous registry",
						slog.String("path", path), slog.String("error", err.Error()))
					continue
				}
				r.logger.Info("evidence allow-list reloaded", slog.String("path", path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("evidence allow-list watcher error", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}
