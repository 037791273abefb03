// SPDX-License-Identifier: Apache-2.0
// Package gateway mediates all agent access to external capability
// providers. It owns argument validation, result caching, per-provider rate
// limiting, and bounded retries.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SideEffect classifies what a tool does to the outside world. Every
// capability exposed through the gateway today is a read-only query.
type SideEffect string

const (
	SideEffectReadOnly SideEffect = "read_only"
)

// Provider executes raw capability requests. Implementations wrap one
// external service (PubChem, ChEMBL, literature search, the LITL store) and
// are never called directly by agents.
type Provider interface {
	// Name identifies the provider for rate limiting and logging.
	Name() string
	// Call performs the request for one of the provider's tools.
	Call(ctx context.Context, tool string, args map[string]any) (any, error)
}

// Descriptor declares one tool: its identity, argument schema, and gateway
// policy. Descriptors are immutable after registration.
type Descriptor struct {
	// Name uniquely identifies the tool across all providers.
	Name string
	// Description is surfaced to the reasoning model as the tool's doc.
	Description string
	// Provider names the owning provider; must match a registered Provider.
	Provider string
	// InputSchema is the JSON Schema for the tool arguments.
	InputSchema map[string]any
	// SideEffect declares the tool's effect class.
	SideEffect SideEffect
	// Cacheable marks results as reusable within the gateway cache TTL.
	Cacheable bool

	compiled *jsonschema.Schema
}

// compileSchema prepares the descriptor's argument validator.
func (d *Descriptor) compileSchema() error {
	if d.InputSchema == nil {
		d.InputSchema = map[string]any{"type": "object"}
	}
	// Round-trip through JSON so the compiler sees plain decoded values
	// regardless of how the schema map was built.
	raw, err := json.Marshal(d.InputSchema)
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", d.Name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytesReader(raw))
	if err != nil {
		return fmt.Errorf("parse schema for %s: %w", d.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := "triage://tools/" + d.Name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", d.Name, err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", d.Name, err)
	}
	d.compiled = sch
	return nil
}

// validateArgs checks args against the compiled schema.
func (d *Descriptor) validateArgs(args map[string]any) error {
	if d.compiled == nil {
		return fmt.Errorf("descriptor %s has no compiled schema", d.Name)
	}
	// Normalize through JSON so numeric types match what the validator
	// expects for decoded documents.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytesReader(raw))
	if err != nil {
		return err
	}
	return d.compiled.Validate(doc)
}
