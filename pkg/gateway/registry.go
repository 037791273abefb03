// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// Registry maps tool names to descriptors and providers. Dispatch is by
// lookup and fails closed on unknown names.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
	providers   map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
		providers:   make(map[string]Provider),
	}
}

// RegisterProvider adds a capability provider. Provider names are unique.
func (r *Registry) RegisterProvider(p Provider) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("provider must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Register adds a tool descriptor. The descriptor's provider must already be
// registered; the schema is compiled once here.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("descriptor must have a name")
	}
	if d.SideEffect == "" {
		d.SideEffect = SideEffectReadOnly
	}
	if err := d.compileSchema(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("tool %q already registered", d.Name)
	}
	if _, ok := r.providers[d.Provider]; !ok {
		return fmt.Errorf("tool %q references unknown provider %q", d.Name, d.Provider)
	}
	r.descriptors[d.Name] = &d
	return nil
}

// Lookup returns the descriptor and provider for a tool name.
func (r *Registry) Lookup(name string) (*Descriptor, Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok {
		return nil, nil, false
	}
	return d, r.providers[d.Provider], true
}

// Descriptors returns all registered descriptors sorted by name.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
