// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/helixbio/triage/pkg/gateway"
)

const (
	pubchemBaseURL     = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"
	pubchemViewBaseURL = "https://pubchem.ncbi.nlm.nih.gov/rest/pug_view"
)

// PubChemProvider exposes the PubChem PUG REST API: compound identity,
// computed properties, bioassay summaries, and curated toxicity sections.
type PubChemProvider struct {
	pug  *restClient
	view *restClient
}

// NewPubChem creates the PubChem provider.
func NewPubChem(timeout time.Duration) *PubChemProvider {
	return &PubChemProvider{
		pug:  newRESTClient(pubchemBaseURL, timeout),
		view: newRESTClient(pubchemViewBaseURL, timeout),
	}
}

// Name implements gateway.Provider.
func (p *PubChemProvider) Name() string { return "pubchem" }

// Call implements gateway.Provider.
func (p *PubChemProvider) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	switch tool {
	case "pubchem.search_cid":
		return p.searchCID(ctx, args)
	case "pubchem.compound_properties":
		return p.compoundProperties(ctx, args)
	case "pubchem.bioassay_summary":
		return p.bioassaySummary(ctx, args)
	case "pubchem.toxicity_sections":
		return p.toxicitySections(ctx, args)
	case "pubchem.drug_summary":
		return p.drugSummary(ctx, args)
	default:
		return nil, fmt.Errorf("pubchem: unsupported tool %q", tool)
	}
}

func (p *PubChemProvider) searchCID(ctx context.Context, args map[string]any) (any, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	limit := intArg(args, "limit", 5)
	params := url.Values{"MaxRecords": {fmt.Sprint(limit)}}
	return p.pug.getJSON(ctx, "/compound/name/"+url.PathEscape(name)+"/cids/JSON", params)
}

func (p *PubChemProvider) compoundProperties(ctx context.Context, args map[string]any) (any, error) {
	cid, err := stringArg(args, "cid")
	if err != nil {
		return nil, err
	}
	props := optionalStringArg(args, "properties")
	if props == "" {
		props = "MolecularFormula,MolecularWeight,CanonicalSMILES,IUPACName,XLogP,TPSA"
	}
	return p.pug.getJSON(ctx, fmt.Sprintf("/compound/cid/%s/property/%s/JSON", url.PathEscape(cid), props), nil)
}

func (p *PubChemProvider) bioassaySummary(ctx context.Context, args map[string]any) (any, error) {
	cid, err := stringArg(args, "cid")
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	if outcome := optionalStringArg(args, "outcome"); outcome != "" {
		params.Set("outcome", outcome)
	}
	return p.pug.getJSON(ctx, fmt.Sprintf("/compound/cid/%s/assaysummary/JSON", url.PathEscape(cid)), params)
}

func (p *PubChemProvider) toxicitySections(ctx context.Context, args map[string]any) (any, error) {
	cid, err := stringArg(args, "cid")
	if err != nil {
		return nil, err
	}
	params := url.Values{"heading": {"Toxicity"}}
	return p.view.getJSON(ctx, fmt.Sprintf("/data/compound/%s/JSON", url.PathEscape(cid)), params)
}

func (p *PubChemProvider) drugSummary(ctx context.Context, args map[string]any) (any, error) {
	cid, err := stringArg(args, "cid")
	if err != nil {
		return nil, err
	}
	params := url.Values{"heading": {"Drug and Medication Information"}}
	return p.view.getJSON(ctx, fmt.Sprintf("/data/compound/%s/JSON", url.PathEscape(cid)), params)
}

// Descriptors returns the gateway declarations for every PubChem tool.
func (p *PubChemProvider) Descriptors() []gateway.Descriptor {
	return []gateway.Descriptor{
		{
			Name:        "pubchem.search_cid",
			Description: "Resolve a compound name to PubChem compound IDs (CIDs).",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"name":  map[string]any{"type": "string", "description": "Compound name to resolve."},
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
			}, "name"),
		},
		{
			Name:        "pubchem.compound_properties",
			Description: "Fetch computed physicochemical properties for a CID.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"cid":        map[string]any{"type": "string", "description": "PubChem compound ID."},
				"properties": map[string]any{"type": "string", "description": "Comma-separated property list."},
			}, "cid"),
		},
		{
			Name:        "pubchem.bioassay_summary",
			Description: "Summarize bioassay outcomes recorded for a CID.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"cid":     map[string]any{"type": "string", "description": "PubChem compound ID."},
				"outcome": map[string]any{"type": "string", "enum": []any{"active", "inactive", "all"}},
			}, "cid"),
		},
		{
			Name:        "pubchem.toxicity_sections",
			Description: "Fetch curated toxicity report sections for a CID.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"cid": map[string]any{"type": "string", "description": "PubChem compound ID."},
			}, "cid"),
		},
		{
			Name:        "pubchem.drug_summary",
			Description: "Fetch curated drug and medication information for a CID.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"cid": map[string]any{"type": "string", "description": "PubChem compound ID."},
			}, "cid"),
		},
	}
}

// objectSchema builds a strict object schema from properties and required
// field names.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}
