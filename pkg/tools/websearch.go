// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/helixbio/triage/pkg/gateway"
)

const tavilyBaseURL = "https://api.tavily.com"

// TavilyProvider exposes general web search through the Tavily API. Results
// are trimmed to title, snippet, and URL to keep observations small.
type TavilyProvider struct {
	rest   *restClient
	apiKey string
}

// NewTavily creates the web search provider.
func NewTavily(apiKey string, timeout time.Duration) *TavilyProvider {
	return &TavilyProvider{
		rest:   newRESTClient(tavilyBaseURL, timeout),
		apiKey: apiKey,
	}
}

// Name implements gateway.Provider.
func (p *TavilyProvider) Name() string { return "websearch" }

// Call implements gateway.Provider.
func (p *TavilyProvider) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	if tool != "web.search" {
		return nil, fmt.Errorf("websearch: unsupported tool %q", tool)
	}
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	maxResults := intArg(args, "max_results", 5)

	raw, err := p.rest.postJSON(ctx, "/search", map[string]any{
		"api_key":             p.apiKey,
		"query":               query,
		"search_depth":        "basic",
		"max_results":         maxResults,
		"include_answer":      false,
		"include_raw_content": false,
		"include_images":      false,
	})
	if err != nil {
		return nil, err
	}
	return trimSearchResults(raw, maxResults), nil
}

// trimSearchResults strips the Tavily payload down to what the model needs.
func trimSearchResults(raw any, max int) []map[string]string {
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	items, ok := doc["results"].([]any)
	if !ok {
		return nil
	}
	var out []map[string]string
	for _, item := range items {
		if len(out) >= max {
			break
		}
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, map[string]string{
			"title":   asString(entry["title"]),
			"snippet": asString(entry["content"]),
			"url":     asString(entry["url"]),
		})
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// Descriptors returns the gateway declaration for web search.
func (p *TavilyProvider) Descriptors() []gateway.Descriptor {
	return []gateway.Descriptor{
		{
			Name:        "web.search",
			Description: "Search the web for recent information about a compound, target, or mechanism.",
			Provider:    p.Name(),
			Cacheable:   true,
			InputSchema: objectSchema(map[string]any{
				"query":       map[string]any{"type": "string", "description": "Search query."},
				"max_results": map[string]any{"type": "integer", "minimum": 1, "maximum": 20},
			}, "query"),
		},
	}
}
