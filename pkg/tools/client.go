// SPDX-License-Identifier: Apache-2.0
// Package tools implements the capability providers behind the gateway:
// PubChem, ChEMBL, PubMed, web search, the lab-in-the-loop record, and a
// bridge for external MCP tool servers.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// restClient is the shared JSON-over-HTTP plumbing for the public data
// sources. Errors carry the status code so the gateway's retry policy can
// distinguish transient failures.
type restClient struct {
	base string
	http *http.Client
}

func newRESTClient(base string, timeout time.Duration) *restClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &restClient{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

// getJSON performs a GET against base+path and decodes the JSON response.
func (c *restClient) getJSON(ctx context.Context, path string, params url.Values) (any, error) {
	u := c.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

// postJSON performs a POST with a JSON body and decodes the JSON response.
func (c *restClient) postJSON(ctx context.Context, path string, body any) (any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *restClient) do(req *http.Request) (any, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Some endpoints (PubMed efetch) return plain text.
		return string(raw), nil
	}
	return decoded, nil
}

// httpStatusError reports a non-2xx response.
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *httpStatusError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// stringArg extracts a required string argument. The gateway validates
// schemas before dispatch, so a miss here means the schema is wrong.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return v, nil
}

// intArg extracts an optional integer argument with a default. JSON numbers
// decode as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// optionalStringArg extracts an optional string argument.
func optionalStringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
