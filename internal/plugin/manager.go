package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotInitialized is returned by Get before Initialize has run.
	// Intentional: there is no speculative wiring before init.
	ErrNotInitialized = errors.New("plugin manager not initialized")

	// ErrNotConfigured is returned when no plugin of the requested kind
	// is part of the configured set
	ErrNotConfigured = errors.New("plugin not configured")
)

// CycleError reports a dependency cycle among configured plugins
type CycleError struct {
	Plugins []Kind
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Plugins))
	for i, k := range e.Plugins {
		names[i] = string(k)
	}
	return fmt.Sprintf("plugin dependency cycle involving: %s", strings.Join(names, ", "))
}

// Manager owns the configured plugin set for the lifetime of one job. It
// resolves inter-plugin dependencies, initializes plugins in dependency
// order and disposes them in exact reverse order.
type Manager struct {
	configured  map[Kind]Plugin
	order       []Kind
	initialized bool
}

// NewManager creates a manager over the configured plugin set. Later plugins
// of a duplicate kind replace earlier ones.
func NewManager(plugins ...Plugin) *Manager {
	configured := make(map[Kind]Plugin, len(plugins))
	for _, p := range plugins {
		configured[p.Name()] = p
	}
	return &Manager{configured: configured}
}

// Initialize resolves the dependency graph and initializes every configured
// plugin in topological order. A plugin whose Initialize fails aborts the
// whole run, attributed by name. Requires entries naming kinds outside the
// configured set are treated as external and ignored.
func (m *Manager) Initialize(ctx context.Context, pctx *Context) error {
	order, err := m.sortPlugins()
	if err != nil {
		return err
	}

	for _, kind := range order {
		p := m.configured[kind]
		if err := p.Initialize(ctx, pctx); err != nil {
			return fmt.Errorf("plugin %s: initialize: %w", kind, err)
		}
	}

	m.order = order
	m.initialized = true
	return nil
}

// sortPlugins runs Kahn's algorithm over the Requires edges
// (dependency -> dependent). Kinds are processed in name order so the
// result is deterministic for a given configured set.
func (m *Manager) sortPlugins() ([]Kind, error) {
	dependents := make(map[Kind][]Kind, len(m.configured)) // dependency -> dependents
	indegree := make(map[Kind]int, len(m.configured))

	for kind := range m.configured {
		indegree[kind] = 0
	}
	for kind, p := range m.configured {
		for _, dep := range p.Requires() {
			if _, ok := m.configured[dep]; !ok {
				continue // external capability, not ours to order
			}
			dependents[dep] = append(dependents[dep], kind)
			indegree[kind]++
		}
	}

	var queue []Kind
	for kind, deg := range indegree {
		if deg == 0 {
			queue = append(queue, kind)
		}
	}

	order := make([]Kind, 0, len(m.configured))
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })
		kind := queue[0]
		queue = queue[1:]
		order = append(order, kind)

		for _, dep := range dependents[kind] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) < len(m.configured) {
		cycle := &CycleError{}
		for kind := range m.configured {
			if indegree[kind] > 0 {
				cycle.Plugins = append(cycle.Plugins, kind)
			}
		}
		sort.Slice(cycle.Plugins, func(i, j int) bool { return cycle.Plugins[i] < cycle.Plugins[j] })
		return nil, cycle
	}

	return order, nil
}

// InitOrder returns the order plugins were initialized in
func (m *Manager) InitOrder() []Kind {
	out := make([]Kind, len(m.order))
	copy(out, m.order)
	return out
}

// Get returns the live plugin of the given kind
func (m *Manager) Get(kind Kind) (Plugin, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	p, ok := m.configured[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotConfigured)
	}
	return p, nil
}

// Dispose tears down plugins in exact reverse initialization order. Errors
// are collected per plugin, never thrown, so one failing plugin does not
// block cleanup of the rest.
func (m *Manager) Dispose() []error {
	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		kind := m.order[i]
		if err := m.configured[kind].Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: dispose: %w", kind, err))
		}
	}
	m.order = nil
	m.initialized = false
	return errs
}

// Typed accessors. Each returns the live instance or an error when the kind
// is absent or the manager has not been initialized.

func (m *Manager) ImageProcessor() (ImageProcessor, error) {
	p, err := m.Get(KindImageProcessor)
	if err != nil {
		return nil, err
	}
	ip, ok := p.(ImageProcessor)
	if !ok {
		return nil, fmt.Errorf("plugin %s does not implement ImageProcessor", p.Name())
	}
	return ip, nil
}

func (m *Manager) TextEmbedder() (TextEmbedder, error) {
	p, err := m.Get(KindTextEmbedder)
	if err != nil {
		return nil, err
	}
	te, ok := p.(TextEmbedder)
	if !ok {
		return nil, fmt.Errorf("plugin %s does not implement TextEmbedder", p.Name())
	}
	return te, nil
}

func (m *Manager) ImageEmbedder() (ImageEmbedder, error) {
	p, err := m.Get(KindImageEmbedder)
	if err != nil {
		return nil, err
	}
	ie, ok := p.(ImageEmbedder)
	if !ok {
		return nil, fmt.Errorf("plugin %s does not implement ImageEmbedder", p.Name())
	}
	return ie, nil
}

func (m *Manager) Similarity() (Similarity, error) {
	p, err := m.Get(KindSimilarity)
	if err != nil {
		return nil, err
	}
	s, ok := p.(Similarity)
	if !ok {
		return nil, fmt.Errorf("plugin %s does not implement Similarity", p.Name())
	}
	return s, nil
}

func (m *Manager) Database() (Database, error) {
	p, err := m.Get(KindDatabase)
	if err != nil {
		return nil, err
	}
	db, ok := p.(Database)
	if !ok {
		return nil, fmt.Errorf("plugin %s does not implement Database", p.Name())
	}
	return db, nil
}

func (m *Manager) MermaidRenderer() (MermaidRenderer, error) {
	p, err := m.Get(KindMermaidRenderer)
	if err != nil {
		return nil, err
	}
	mr, ok := p.(MermaidRenderer)
	if !ok {
		return nil, fmt.Errorf("plugin %s does not implement MermaidRenderer", p.Name())
	}
	return mr, nil
}
