// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package teaching

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

//go:embed concepts.yaml
var embeddedConcepts []byte

// reloadDebounce coalesces the burst of filesystem events most editors
// emit for a single save.
const reloadDebounce = 500 * time.Millisecond

// ConceptEntry is one dictionary record. Keywords are matched by
// case-insensitive substring against student messages.
type ConceptEntry struct {
	Name          string   `yaml:"name"`
	Category      string   `yaml:"category"`
	Keywords      []string `yaml:"keywords"`
	Prerequisites []string `yaml:"prerequisites,omitempty"`
}

type conceptFile struct {
	Version  int            `yaml:"version"`
	Concepts []ConceptEntry `yaml:"concepts"`
}

func (f *conceptFile) validate() error {
	if len(f.Concepts) == 0 {
		return fmt.Errorf("concept dictionary has no entries")
	}
	for i, entry := range f.Concepts {
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("concept entry %d: name is required", i)
		}
		if len(entry.Keywords) == 0 {
			return fmt.Errorf("concept entry %q: at least one keyword is required", entry.Name)
		}
	}
	return nil
}

// Dictionary holds the concept entries behind the deterministic extraction
// fallback and the static prerequisite lookup. Entries keep their file
// order; lookups are concurrency-safe and survive a failed reload.
type Dictionary struct {
	mu      sync.RWMutex
	entries []ConceptEntry
	byName  map[string]*ConceptEntry

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewDictionary parses the embedded concept set.
func NewDictionary() (*Dictionary, error) {
	d := &Dictionary{done: make(chan struct{})}
	if err := d.load(embeddedConcepts, "embedded"); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadFile replaces the dictionary contents from an external YAML file.
// On any error the previous entries stay in effect.
func (d *Dictionary) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read concept dictionary: %w", err)
	}
	return d.load(raw, path)
}

func (d *Dictionary) load(raw []byte, source string) error {
	var file conceptFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse concept dictionary %s: %w", source, err)
	}
	if err := file.validate(); err != nil {
		return fmt.Errorf("invalid concept dictionary %s: %w", source, err)
	}

	byName := make(map[string]*ConceptEntry, len(file.Concepts))
	for i := range file.Concepts {
		entry := &file.Concepts[i]
		byName[strings.ToLower(entry.Name)] = entry
	}

	d.mu.Lock()
	d.entries = file.Concepts
	d.byName = byName
	d.mu.Unlock()
	return nil
}

// Watch hot-reloads the dictionary whenever the file at path changes. The
// containing directory is watched rather than the file itself, because
// editors that save via rename would otherwise drop the watch. Call Close
// to stop.
func (d *Dictionary) Watch(path string) error {
	if err := d.LoadFile(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create dictionary watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	d.watcher = watcher
	go d.watchLoop(path)

	slog.Info("concept dictionary watch started", "path", path, "entries", d.Len())
	return nil
}

func (d *Dictionary) watchLoop(path string) {
	base := filepath.Base(path)

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-d.done:
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("concept dictionary watcher error", "error", err)

		case <-timer.C:
			if err := d.LoadFile(path); err != nil {
				slog.Warn("concept dictionary reload failed, keeping previous entries",
					"path", path, "error", err)
				continue
			}
			slog.Info("concept dictionary reloaded", "path", path, "entries", d.Len())
		}
	}
}

// Close stops the watcher if one is running. Safe to call multiple times.
func (d *Dictionary) Close() error {
	var err error
	d.stopOnce.Do(func() {
		close(d.done)
		if d.watcher != nil {
			err = d.watcher.Close()
		}
	})
	return err
}

// MatchKeywords returns the names of every entry with a keyword appearing
// in text, preserving dictionary order. Matching is case-insensitive
// substring; names are already lowercase in the shipped dictionary. The
// result is empty, never nil, when nothing matches.
func (d *Dictionary) MatchKeywords(text string) []string {
	lowered := strings.ToLower(text)

	d.mu.RLock()
	defer d.mu.RUnlock()

	matched := []string{}
	for i := range d.entries {
		for _, kw := range d.entries[i].Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				matched = append(matched, strings.ToLower(d.entries[i].Name))
				break
			}
		}
	}
	return matched
}

// Category returns the category recorded for concept, if the dictionary
// knows it.
func (d *Dictionary) Category(concept string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.byName[strings.ToLower(concept)]
	if !ok {
		return "", false
	}
	return entry.Category, true
}

// Prerequisites returns the prerequisite concepts recorded for concept,
// or nil when the dictionary has no entry for it.
func (d *Dictionary) Prerequisites(concept string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.byName[strings.ToLower(concept)]
	if !ok || len(entry.Prerequisites) == 0 {
		return nil
	}
	out := make([]string, len(entry.Prerequisites))
	copy(out, entry.Prerequisites)
	return out
}

// Len reports the number of loaded entries.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
