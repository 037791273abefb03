// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/helixbio/triage/pkg/gateway"
)

const chemblBaseURL = "https://www.ebi.ac.uk/chembl/api/data"

// ChEMBLProvider exposes the ChEMBL REST API: molecule lookup, measured
// bioactivities, mechanisms of action, and drug warnings.
type ChEMBLProvider struct {
	rest *restClient
}

// NewChEMBL creates the ChEMBL provider.
func NewChEMBL(timeout time.Duration) *ChEMBLProvider {
	return &ChEMBLProvider{rest: newRESTClient(chemblBaseURL, timeout)}
}

// Name implements gateway.Provider.
func (p *ChEMBLProvider) Name() string { return "chembl" }

// Call implements gateway.Provider.
func (p *ChEMBLProvider) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	switch tool {
	case "chembl.search_molecule":
		return p.searchMolecule(ctx, args)
	case "chembl.bioactivities":
		return p.bioactivities(ctx, args)
	case "chembl.mechanisms":
		return p.mechanisms(ctx, args)
	case "chembl.drug_warnings":
		return p.drugWarnings(ctx, args)
	default:
		return nil, fmt.Errorf("chembl: unsupported tool %q", tool)
	}
}

func (p *ChEMBLProvider) searchMolecule(ctx context.Context, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"format": {"json"},
		"q":      {query},
		"limit":  {fmt.Sprint(intArg(args, "limit", 5))},
	}
	return p.rest.getJSON(ctx, "/molecule/search", params)
}

func (p *ChEMBLProvider) bioactivities(ctx context.Context, args map[string]any) (any, error) {
	chemblID, err := stringArg(args, "chembl_id")
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"format":                    {"json"},
		"molecule_chembl_id":        {chemblID},
		"limit":                     {fmt.Sprint(intArg(args, "limit", 20))},
		"standard_type__isnull":     {"false"},
		"standard_value__isnull":    {"false"},
		"standard_relation__isnull": {"false"},
	}
	return p.rest.getJSON(ctx, "/activity", params)
}

func (p *ChEMBLProvider) mechanisms(ctx context.Context, args map[string]any) (any, error) {
	chemblID, err := stringArg(args, "chembl_id")
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"format":             {"json"},
		"molecule_chembl_id": {chemblID},
	}
	return p.rest.getJSON(ctx, "/mechanism", params)
}

func (p *ChEMBLProvider) drugWarnings(ctx context.Context, args map[string]any) (any, error) {
	chemblID, err := stringArg(args, "chembl_id")
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"format":             {"json"},
		"molecule_chembl_id": {chemblID},
		"limit":              {fmt.Sprint(intArg(args, "limit", 10))},
	}
	return p.rest.getJSON(ctx, "/drug_warning", params)
}

// Descriptors returns the gateway declarations for every ChEMBL tool.
func (p *ChEMBLProvider) Descriptors() []gateway.Descriptor {
	chemblIDProp := map[string]any{"type": "string", "description": "ChEMBL molecule ID, e.g. CHEMBL25."}
	return []gateway.Descriptor{
		{
			Name:        "chembl.search_molecule",
			Description: "Search ChEMBL molecules by name or synonym.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"query": map[string]any{"type": "string", "description": "Name or synonym to search."},
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
			}, "query"),
		},
		{
			Name:        "chembl.bioactivities",
			Description: "Fetch measured bioactivities (IC50, Ki, EC50) for a molecule.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"chembl_id": chemblIDProp,
				"limit":     map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
			}, "chembl_id"),
		},
		{
			Name:        "chembl.mechanisms",
			Description: "Fetch known mechanisms of action for a molecule.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"chembl_id": chemblIDProp,
			}, "chembl_id"),
		},
		{
			Name:        "chembl.drug_warnings",
			Description: "Fetch recorded drug warnings (withdrawals, black box) for a molecule.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"chembl_id": chemblIDProp,
				"limit":     map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
			}, "chembl_id"),
		},
	}
}
