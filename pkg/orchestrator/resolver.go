// SPDX-License-Identifier: Apache-2.0
package orchestrator

import (
	"context"
	"strings"

	"github.com/helixbio/triage/pkg/errors"
	"github.com/helixbio/triage/pkg/gateway"
	"github.com/helixbio/triage/pkg/litl"
)

// Resolver establishes that a compound identifier refers to something the
// system can reason about, before any agent budget is spent on it.
type Resolver interface {
	// Resolve returns the canonical compound name, or an error carrying
	// COMPOUND_NOT_FOUND when the identifier is unknown.
	Resolve(ctx context.Context, compound string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, compound string) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, compound string) (string, error) {
	return f(ctx, compound)
}

// KnownCompoundResolver accepts a compound when the internal record has
// assay data for it, or when PubChem can resolve the name. Novel internal
// compounds never appear in public databases, so the internal check comes
// first.
type KnownCompoundResolver struct {
	store   *litl.Store
	gateway *gateway.Gateway
}

// NewKnownCompoundResolver creates the default resolver. Either source may
// be nil; a nil source is skipped.
func NewKnownCompoundResolver(store *litl.Store, gw *gateway.Gateway) *KnownCompoundResolver {
	return &KnownCompoundResolver{store: store, gateway: gw}
}

// Resolve implements Resolver.
func (r *KnownCompoundResolver) Resolve(ctx context.Context, compound string) (string, error) {
	name := strings.TrimSpace(compound)
	if name == "" {
		return "", errors.New(errors.CodeCompoundNotFound, "no compound specified", nil)
	}

	if r.store != nil {
		records, err := r.store.AssaysByCompound(ctx, name, "", 1)
		if err == nil && len(records) > 0 {
			return name, nil
		}
	}
	if r.gateway != nil && r.gateway.Has("pubchem.search_cid") {
		result, err := r.gateway.Invoke(ctx, "pubchem.search_cid", map[string]any{"name": name, "limit": 1})
		if err == nil && hasCID(result) {
			return name, nil
		}
	}
	return "", errors.New(errors.CodeCompoundNotFound, "compound is not in the internal record or PubChem", nil).
		WithContext("compound", name)
}

func hasCID(result any) bool {
	doc, ok := result.(map[string]any)
	if !ok {
		return false
	}
	list, ok := doc["IdentifierList"].(map[string]any)
	if !ok {
		return false
	}
	cids, ok := list["CID"].([]any)
	return ok && len(cids) > 0
}
