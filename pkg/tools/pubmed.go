// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/helixbio/triage/pkg/gateway"
)

const pubmedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMedProvider searches literature abstracts through the NCBI E-utilities:
// esearch resolves a term to PMIDs, efetch pulls the abstracts.
type PubMedProvider struct {
	rest   *restClient
	apiKey string
}

// NewPubMed creates the PubMed provider. apiKey is optional; NCBI grants a
// higher request budget when it is set.
func NewPubMed(apiKey string, timeout time.Duration) *PubMedProvider {
	return &PubMedProvider{
		rest:   newRESTClient(pubmedBaseURL, timeout),
		apiKey: apiKey,
	}
}

// Name implements gateway.Provider.
func (p *PubMedProvider) Name() string { return "pubmed" }

// Call implements gateway.Provider.
func (p *PubMedProvider) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	if tool != "pubmed.search_abstracts" {
		return nil, fmt.Errorf("pubmed: unsupported tool %q", tool)
	}
	term, err := stringArg(args, "term")
	if err != nil {
		return nil, err
	}
	retmax := intArg(args, "max_results", 10)

	ids, err := p.search(ctx, term, retmax, optionalStringArg(args, "sort"))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return "No results found for the given search terms.", nil
	}
	return p.fetchAbstracts(ctx, ids)
}

func (p *PubMedProvider) search(ctx context.Context, term string, retmax int, sort string) ([]string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmax":  {fmt.Sprint(retmax)},
		"retmode": {"json"},
	}
	if sort != "" {
		params.Set("sort", sort)
	}
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}
	raw, err := p.rest.getJSON(ctx, "/esearch.fcgi", params)
	if err != nil {
		return nil, err
	}
	return extractIDList(raw), nil
}

func (p *PubMedProvider) fetchAbstracts(ctx context.Context, ids []string) (any, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"text"},
		"rettype": {"abstract"},
	}
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}
	return p.rest.getJSON(ctx, "/efetch.fcgi", params)
}

// extractIDList pulls esearchresult.idlist out of the esearch response.
func extractIDList(raw any) []string {
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	result, ok := doc["esearchresult"].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := result["idlist"].([]any)
	if !ok {
		return nil
	}
	var ids []string
	for _, item := range items {
		if id, ok := item.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Descriptors returns the gateway declaration for literature search.
func (p *PubMedProvider) Descriptors() []gateway.Descriptor {
	return []gateway.Descriptor{
		{
			Name:        "pubmed.search_abstracts",
			Description: "Search PubMed and return matching article abstracts.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"term":        map[string]any{"type": "string", "description": "Entrez text query."},
				"max_results": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
				"sort":        map[string]any{"type": "string", "enum": []any{"pub_date", "Author", "JournalName", "relevance"}},
			}, "term"),
		},
	}
}
