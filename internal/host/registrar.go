package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrDuplicateModule = errors.New("module already registered")

// ModuleInfo describe un módulo registrado
type ModuleInfo struct {
	Name   string   `json:"name"`
	Events []string `json:"events"`
}

// Registrar is the host runtime's table of named modules.
type Registrar struct {
	log     *zap.Logger
	mu      sync.RWMutex
	modules map[string]sdk.Module
	order   []string
}

func NewRegistrar(log *zap.Logger) *Registrar {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registrar{
		log:     log,
		modules: make(map[string]sdk.Module),
	}
}

func (r *Registrar) Register(m sdk.Module) error {
	name := m.Name()
	if name == "" {
		return errors.New("module name is empty")
	}

	r.mu.Lock()
	if _, ok := r.modules[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateModule, name)
	}
	r.modules[name] = m
	r.order = append(r.order, name)
	r.mu.Unlock()

	r.log.Info("module registered",
		zap.String("name", name),
		zap.Strings("events", m.Events()))
	return nil
}

// Unregister is a no-op for unknown names.
func (r *Registrar) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[name]; !ok {
		return
	}
	delete(r.modules, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Info("module unregistered", zap.String("name", name))
}

func (r *Registrar) Lookup(name string) (sdk.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Modules lists modules in registration order.
func (r *Registrar) Modules() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModuleInfo, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, ModuleInfo{Name: n, Events: r.modules[n].Events()})
	}
	return out
}

// Shutdown stops modules in reverse registration order. Stop is called
// without the registrar lock so modules may unregister themselves.
func (r *Registrar) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	mods := make([]sdk.Module, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		mods = append(mods, r.modules[r.order[i]])
	}
	r.mu.RUnlock()

	var errs error
	for _, m := range mods {
		if err := m.Stop(ctx); err != nil {
			r.log.Warn("module stop failed", zap.String("name", m.Name()), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
		r.Unregister(m.Name())
	}
	return errs
}
