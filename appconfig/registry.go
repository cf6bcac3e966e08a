package appconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/IRCAD/sight-sub074/errors"
)

var templateExts = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// Registry stores raw configuration templates by id.
type Registry struct {
	mu        sync.RWMutex
	templates map[string][]byte
	sources   map[string]string // file path -> template id
	logger    *slog.Logger
}

// NewRegistry creates an empty template registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		templates: make(map[string][]byte),
		sources:   make(map[string]string),
		logger:    logger.With("component", "appconfig-registry"),
	}
}

// Register stores a template, replacing any previous one with the same id.
// The template is parsed once with placeholders masked to reject
// syntactically broken input early.
func (r *Registry) Register(id string, raw []byte) error {
	if id == "" {
		return errors.Configf("Registry", "Register", "empty template id")
	}
	if _, err := parseParameters(raw); err != nil {
		return errors.Wrap(err, "Registry", "Register", fmt.Sprintf("parse template %s", id))
	}

	cp := make([]byte, len(raw))
	copy(cp, raw)

	r.mu.Lock()
	r.templates[id] = cp
	r.mu.Unlock()
	return nil
}

// Get returns the raw template.
func (r *Registry) Get(id string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	raw, ok := r.templates[id]
	return raw, ok
}

// IDs returns the registered template ids sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Adapted builds the template id with the given field values.
func (r *Registry) Adapted(id string, fields map[string]string, opts ...Option) (*Model, error) {
	raw, ok := r.Get(id)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrConfigNotFound, id),
			"Registry", "Adapted", "lookup template")
	}
	model, err := Build(raw, append([]Option{WithFields(fields)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if model.ID == "" {
		model.ID = id
	}
	return model, nil
}

// LoadFile registers one template file. The template id is the file's
// top-level id, or its base name without extension.
func (r *Registry) LoadFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.WrapTransient(err, "Registry", "LoadFile", "read template")
	}

	id := templateID(path, raw)
	if err := r.Register(id, raw); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.sources[path] = id
	r.mu.Unlock()
	return id, nil
}

func templateID(path string, raw []byte) string {
	var head struct {
		ID string `yaml:"id"`
	}
	masked := placeholderRe.ReplaceAll(raw, []byte("placeholder"))
	if err := yaml.Unmarshal(masked, &head); err == nil && head.ID != "" && !strings.Contains(head.ID, "placeholder") {
		return head.ID
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadDir registers every *.yaml, *.yml and *.json file of dir.
func (r *Registry) LoadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WrapTransient(err, "Registry", "LoadDir", "list directory")
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !templateExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		id, err := r.LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Registry) forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.sources[path]; ok {
		delete(r.sources, path)
		delete(r.templates, id)
	}
}

// Watch reloads templates of dir when their files change, until ctx is done.
// onReload, if not nil, is called with the ids reloaded after each debounced
// batch of events.
func (r *Registry) Watch(ctx context.Context, dir string, debounce time.Duration, onReload func([]string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "Registry", "Watch", "create fsnotify watcher")
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return errors.WrapTransient(err, "Registry", "Watch", fmt.Sprintf("watch %s", dir))
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	go r.watchLoop(ctx, fsw, debounce, onReload)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, debounce time.Duration, onReload func([]string)) {
	defer fsw.Close()

	pending := make(map[string]fsnotify.Op)
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !templateExts[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			pending[ev.Name] |= ev.Op
			timer.Reset(debounce)

		case <-timer.C:
			ids := r.applyEvents(pending)
			pending = make(map[string]fsnotify.Op)
			if onReload != nil && len(ids) > 0 {
				onReload(ids)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			r.logger.Warn("Template watcher error", "error", err)
		}
	}
}

func (r *Registry) applyEvents(pending map[string]fsnotify.Op) []string {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var ids []string
	for _, path := range paths {
		op := pending[path]
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			if _, err := os.Stat(path); err != nil {
				r.forget(path)
				r.logger.Info("Template removed", "path", path)
				continue
			}
		}
		id, err := r.LoadFile(path)
		if err != nil {
			r.logger.Warn("Template reload failed", "path", path, "error", err)
			continue
		}
		r.logger.Info("Template reloaded", "id", id, "path", path)
		ids = append(ids, id)
	}
	return ids
}
