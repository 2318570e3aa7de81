package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/config"
)

// FactorySymbol is the symbol a Go plugin must export.
const FactorySymbol = "NewExtension"

// Descriptor is one entry of the extensions config section.
type Descriptor struct {
	Name string
	// Path is a plugin file or a directory holding plugin files.
	Path string
	// Module names a factory registered with Register. When it is set and
	// registered, Path is not used.
	Module string
	Config map[string]any
}

// Descriptors turns the extensions section of cfg into descriptors sorted by name.
func Descriptors(cfg *config.Config) []Descriptor {
	out := make([]Descriptor, 0, len(cfg.Extensions))
	for name, e := range cfg.Extensions {
		out = append(out, Descriptor{Name: name, Path: e.Path, Module: e.Module, Config: e.Config})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Set is an immutable, case-insensitive collection of loaded extensions.
type Set struct {
	byName  map[string]Extension
	ordered []Extension
}

func newSet(exts []Extension) *Set {
	s := &Set{byName: make(map[string]Extension, len(exts)), ordered: exts}
	for _, e := range exts {
		s.byName[strings.ToLower(e.Name())] = e
	}
	return s
}

func (s *Set) Lookup(name string) (Extension, bool) {
	e, ok := s.byName[strings.ToLower(name)]
	return e, ok
}

func (s *Set) All() []Extension {
	out := make([]Extension, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func (s *Set) Len() int { return len(s.ordered) }

type symbolTable interface {
	Lookup(name string) (plugin.Symbol, error)
}

func openPlugin(path string) (symbolTable, error) {
	return plugin.Open(path)
}

// Loader builds and initializes the configured extensions once.
type Loader struct {
	host    *Host
	logger  *zap.Logger
	partial bool
	open    func(path string) (symbolTable, error)

	loaded atomic.Bool
	set    atomic.Pointer[Set]
}

type LoaderOption func(*Loader)

// WithPartialLoad publishes the extensions that loaded even when others
// failed. Load still returns every failure.
func WithPartialLoad() LoaderOption {
	return func(l *Loader) { l.partial = true }
}

func NewLoader(host *Host, opts ...LoaderOption) *Loader {
	if host == nil {
		host = NewHost(nil, nil)
	}
	l := &Loader{
		host:   host,
		logger: host.Logger.With(zap.String("component", "extension-loader")),
		open:   openPlugin,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.set.Store(newSet(nil))
	return l
}

// Extensions returns the published set. It is empty until Load succeeds.
func (l *Loader) Extensions() *Set {
	return l.set.Load()
}

// Lookup resolves name in the published set.
func (l *Loader) Lookup(name string) (Extension, bool) {
	return l.set.Load().Lookup(name)
}

// Load builds, initializes and publishes every descriptor. Without
// WithPartialLoad the first failure aborts and nothing is published.
func (l *Loader) Load(ctx context.Context, descs []Descriptor) error {
	if !l.loaded.CompareAndSwap(false, true) {
		return ErrAlreadyLoaded
	}

	var (
		exts []Extension
		errs []error
		seen = make(map[string]bool, len(descs))
	)
	for _, d := range descs {
		ext, err := l.loadOne(ctx, d, seen)
		if err != nil {
			if !l.partial {
				l.logger.Error("extension load aborted", zap.String("extension", d.Name), zap.Error(err))
				return err
			}
			l.logger.Warn("extension skipped", zap.String("extension", d.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		exts = append(exts, ext)
	}

	l.set.Store(newSet(exts))
	l.logger.Info("extensions loaded", zap.Int("count", len(exts)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

func (l *Loader) loadOne(ctx context.Context, d Descriptor, seen map[string]bool) (Extension, error) {
	key := strings.ToLower(d.Name)
	if key == "" {
		return nil, &InvalidExtensionError{Name: d.Name, Reason: "empty name"}
	}
	if seen[key] {
		return nil, &InvalidExtensionError{Name: d.Name, Reason: "duplicate name"}
	}

	factory, err := l.resolve(d)
	if err != nil {
		return nil, err
	}
	ext, err := factory(d.Name, l.host.derive(d.Config))
	if err != nil {
		return nil, &InvalidExtensionError{Name: d.Name, Reason: "construct", Err: err}
	}
	if ext == nil {
		return nil, &InvalidExtensionError{Name: d.Name, Reason: "factory returned nil"}
	}
	if n := strings.ToLower(ext.Name()); n != key && seen[n] {
		return nil, &InvalidExtensionError{Name: ext.Name(), Reason: "duplicate name"}
	}
	if err := ext.Initialize(ctx); err != nil {
		return nil, &InvalidExtensionError{Name: d.Name, Reason: "initialize", Err: err}
	}

	seen[key] = true
	seen[strings.ToLower(ext.Name())] = true
	l.logger.Debug("extension loaded", zap.String("extension", ext.Name()), zap.String("module", d.Module), zap.String("path", d.Path))
	return ext, nil
}

func (l *Loader) resolve(d Descriptor) (Factory, error) {
	if d.Module != "" {
		if f, ok := Registered(d.Module); ok {
			return f, nil
		}
	}
	if d.Path == "" {
		return nil, fmt.Errorf("%w: extensions.%s.path", config.ErrItemMissing, d.Name)
	}
	info, err := os.Stat(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: extensions.%s.path: %v", config.ErrItemMissing, d.Name, err)
	}
	dir := d.Path
	if !info.IsDir() {
		dir = filepath.Dir(d.Path)
	}
	return l.scan(d.Name, dir)
}

// scan opens every plugin in dir and requires exactly one of them to export
// FactorySymbol.
func (l *Loader) scan(name, dir string) (Factory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &InvalidExtensionError{Name: name, Reason: "read " + dir, Err: err}
	}

	var found []Factory
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".so" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, err := l.open(path)
		if err != nil {
			l.logger.Warn("plugin open failed", zap.String("path", path), zap.Error(err))
			continue
		}
		sym, err := p.Lookup(FactorySymbol)
		if err != nil {
			continue
		}
		f, ok := asFactory(sym)
		if !ok {
			return nil, &InvalidExtensionError{Name: name, Reason: fmt.Sprintf("%s in %s has type %T", FactorySymbol, path, sym)}
		}
		found = append(found, f)
	}

	switch len(found) {
	case 0:
		return nil, &InvalidExtensionError{Name: name, Reason: "no " + FactorySymbol + " found in " + dir}
	case 1:
		return found[0], nil
	}
	return nil, &InvalidExtensionError{Name: name, Reason: fmt.Sprintf("%d modules in %s export %s", len(found), dir, FactorySymbol)}
}

func asFactory(sym plugin.Symbol) (Factory, bool) {
	switch f := sym.(type) {
	case func(string, *Host) (Extension, error):
		return f, true
	case Factory:
		return f, true
	case *Factory:
		if f != nil && *f != nil {
			return *f, true
		}
	}
	return nil, false
}
