// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"

	"github.com/helixbio/triage/pkg/gateway"
)

// Describer is a provider that carries its own tool declarations.
type Describer interface {
	gateway.Provider
	Descriptors() []gateway.Descriptor
}

// Register adds each provider and all of its tools to the registry.
func Register(r *gateway.Registry, providers ...Describer) error {
	for _, p := range providers {
		if err := r.RegisterProvider(p); err != nil {
			return err
		}
		for _, d := range p.Descriptors() {
			if err := r.Register(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// RegisterMCP discovers an MCP provider's tools and adds them to the
// registry. Discovery needs a context because it talks to the server.
func RegisterMCP(ctx context.Context, r *gateway.Registry, p *MCPProvider) error {
	descriptors, err := p.Descriptors(ctx)
	if err != nil {
		return err
	}
	if err := r.RegisterProvider(p); err != nil {
		return err
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
