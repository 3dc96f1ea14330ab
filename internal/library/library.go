// Package library manages a directory of reusable script templates. Each
// template is a JavaScript file with a comment header carrying metadata;
// templates are statically validated and version-gated at load time, and the
// directory is hot-reloaded on change.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"scriptbox/internal/config"
	"scriptbox/internal/sandbox"
)

// Template is one loaded script template.
type Template struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Requires    string    `json:"requires,omitempty"`
	Source      string    `json:"-"`
	Path        string    `json:"path"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// Library loads and watches the template directory.
type Library struct {
	dir           string
	engineVersion *semver.Version
	validator     *sandbox.Validator
	logger        zerolog.Logger

	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	templates map[string]*Template
	closed    bool

	debounce   map[string]*time.Timer
	debounceMu sync.Mutex
}

// New creates a library rooted at the configured directory. engineVersion
// gates templates that declare a version requirement.
func New(cfg config.LibraryConfig, engineVersion string, logger zerolog.Logger) (*Library, error) {
	ver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return nil, fmt.Errorf("parse engine version %q: %w", engineVersion, err)
	}

	dir, err := config.ExpandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expand template path: %w", err)
	}

	return &Library{
		dir:           dir,
		engineVersion: ver,
		validator:     sandbox.NewValidator(sandbox.DefaultConfig()),
		logger:        logger.With().Str("component", "library").Logger(),
		templates:     make(map[string]*Template),
		debounce:      make(map[string]*time.Timer),
	}, nil
}

// Load scans the template directory and loads every JavaScript template.
// A missing directory is not an error; invalid templates are skipped.
func (l *Library) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		l.logger.Debug().Str("dir", l.dir).Msg("template directory does not exist")
		return nil
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read template directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		if err := l.loadTemplateLocked(path); err != nil {
			l.logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to load template")
		}
	}

	l.logger.Info().Int("count", len(l.templates)).Msg("loaded script templates")
	return nil
}

// loadTemplateLocked loads a single template file (must hold lock).
func (l *Library) loadTemplateLocked(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	source := string(data)

	tmpl, err := parseMetadata(source)
	if err != nil {
		return fmt.Errorf("parse metadata in %s: %w", path, err)
	}
	if tmpl.Name == "" {
		tmpl.Name = strings.TrimSuffix(filepath.Base(path), ".js")
	}

	if tmpl.Requires != "" {
		constraint, err := semver.NewConstraint(tmpl.Requires)
		if err != nil {
			return fmt.Errorf("invalid version requirement %q: %w", tmpl.Requires, err)
		}
		if !constraint.Check(l.engineVersion) {
			return fmt.Errorf("template %s requires engine %s, running %s",
				tmpl.Name, tmpl.Requires, l.engineVersion)
		}
	}

	if err := l.validator.Validate(source); err != nil {
		return fmt.Errorf("template %s rejected: %w", tmpl.Name, err)
	}

	tmpl.Source = source
	tmpl.Path = path
	tmpl.LoadedAt = time.Now()

	l.templates[tmpl.Name] = tmpl
	l.logger.Debug().Str("name", tmpl.Name).Str("path", path).Msg("loaded template")
	return nil
}

// parseMetadata reads the @name, @description and @requires directives from
// the template's leading comment lines.
func parseMetadata(source string) (*Template, error) {
	tmpl := &Template{}
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "//") {
			break
		}

		body := strings.TrimSpace(strings.TrimPrefix(trimmed, "//"))
		switch {
		case strings.HasPrefix(body, "@name "):
			tmpl.Name = strings.TrimSpace(strings.TrimPrefix(body, "@name "))
		case strings.HasPrefix(body, "@description "):
			tmpl.Description = strings.TrimSpace(strings.TrimPrefix(body, "@description "))
		case strings.HasPrefix(body, "@requires "):
			tmpl.Requires = strings.TrimSpace(strings.TrimPrefix(body, "@requires "))
		}
	}
	return tmpl, nil
}

// Watch starts watching the template directory for changes.
func (l *Library) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("library is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	go l.watchLoop()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	l.logger.Info().Str("dir", l.dir).Msg("watching template directory")
	return nil
}

func (l *Library) watchLoop() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			if !strings.HasSuffix(event.Name, ".js") {
				continue
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				l.debouncedReload(event.Name)
			}

			if event.Op&fsnotify.Remove != 0 {
				l.handleRemove(event.Name)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// debouncedReload reloads a template file with 100ms debounce.
func (l *Library) debouncedReload(path string) {
	l.debounceMu.Lock()
	defer l.debounceMu.Unlock()

	if timer, ok := l.debounce[path]; ok {
		timer.Stop()
	}

	l.debounce[path] = time.AfterFunc(100*time.Millisecond, func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if err := l.loadTemplateLocked(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("failed to reload template")
		} else {
			l.logger.Info().Str("path", path).Msg("reloaded template")
		}
	})
}

func (l *Library) handleRemove(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, tmpl := range l.templates {
		if tmpl.Path == path {
			delete(l.templates, name)
			l.logger.Info().Str("name", name).Msg("unloaded removed template")
			return
		}
	}
}

// Get returns a template by name.
func (l *Library) Get(name string) (*Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tmpl, ok := l.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Names returns the loaded template names.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	return names
}

// Close stops the watcher and clears the loaded templates.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true

	if l.watcher != nil {
		l.watcher.Close()
	}

	l.debounceMu.Lock()
	for _, timer := range l.debounce {
		timer.Stop()
	}
	l.debounceMu.Unlock()

	l.templates = make(map[string]*Template)
	return nil
}
