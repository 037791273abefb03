// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/helixbio/triage/pkg/core"
	"github.com/helixbio/triage/pkg/gateway"
	"github.com/helixbio/triage/pkg/litl"
	"github.com/helixbio/triage/pkg/llm"
)

func TestPubChemSearchCID(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"IdentifierList": {"CID": [2244]}}`)
	}))
	defer server.Close()

	p := NewPubChem(time.Second)
	p.pug = newRESTClient(server.URL, time.Second)

	result, err := p.Call(context.Background(), "pubchem.search_cid", map[string]any{"name": "aspirin", "limit": 3})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotPath != "/compound/name/aspirin/cids/JSON" {
		t.Fatalf("path = %s", gotPath)
	}
	if !strings.Contains(gotQuery, "MaxRecords=3") {
		t.Fatalf("query = %s", gotQuery)
	}
	doc, ok := result.(map[string]any)
	if !ok || doc["IdentifierList"] == nil {
		t.Fatalf("result = %#v", result)
	}
}

func TestPubChemRejectsMissingArgs(t *testing.T) {
	p := NewPubChem(time.Second)
	if _, err := p.Call(context.Background(), "pubchem.search_cid", map[string]any{}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := p.Call(context.Background(), "pubchem.nope", map[string]any{}); err == nil {
		t.Fatal("expected error for unsupported tool")
	}
}

func TestPubChemDrugSummary(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"Record": {"RecordTitle": "Aspirin"}}`)
	}))
	defer server.Close()

	p := NewPubChem(time.Second)
	p.view = newRESTClient(server.URL, time.Second)

	if _, err := p.Call(context.Background(), "pubchem.drug_summary", map[string]any{"cid": "2244"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotPath != "/data/compound/2244/JSON" {
		t.Fatalf("path = %s", gotPath)
	}
	if !strings.Contains(gotQuery, "heading=Drug+and+Medication+Information") {
		t.Fatalf("query = %s", gotQuery)
	}
}

func TestChEMBLBioactivities(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"activities": []}`)
	}))
	defer server.Close()

	p := NewChEMBL(time.Second)
	p.rest = newRESTClient(server.URL, time.Second)

	if _, err := p.Call(context.Background(), "chembl.bioactivities", map[string]any{"chembl_id": "CHEMBL25"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !strings.Contains(gotQuery, "molecule_chembl_id=CHEMBL25") || !strings.Contains(gotQuery, "format=json") {
		t.Fatalf("query = %s", gotQuery)
	}
}

func TestHTTPStatusErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewChEMBL(time.Second)
	p.rest = newRESTClient(server.URL, time.Second)

	_, err := p.Call(context.Background(), "chembl.mechanisms", map[string]any{"chembl_id": "CHEMBL25"})
	statusErr, ok := err.(*httpStatusError)
	if !ok {
		t.Fatalf("err = %v, want httpStatusError", err)
	}
	if statusErr.Status != http.StatusTooManyRequests || !statusErr.Transient() {
		t.Fatalf("status error = %+v", statusErr)
	}
}

func TestTavilyTrimsResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [
			{"title": "A", "content": "first snippet", "url": "https://a.example", "raw_content": "huge"},
			{"title": "B", "content": "second snippet", "url": "https://b.example"},
			{"title": "C", "content": "third snippet", "url": "https://c.example"}
		]}`)
	}))
	defer server.Close()

	p := NewTavily("key", time.Second)
	p.rest = newRESTClient(server.URL, time.Second)

	result, err := p.Call(context.Background(), "web.search", map[string]any{"query": "ivacaftor toxicity", "max_results": 2})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	items, ok := result.([]map[string]string)
	if !ok || len(items) != 2 {
		t.Fatalf("result = %#v", result)
	}
	if items[0]["title"] != "A" || items[0]["snippet"] != "first snippet" {
		t.Fatalf("first item = %v", items[0])
	}
	if _, has := items[0]["raw_content"]; has {
		t.Fatal("raw content must be stripped")
	}
}

func TestPubMedSearchAndFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("term") != "CFTR modulator" {
			t.Errorf("term = %q", r.URL.Query().Get("term"))
		}
		fmt.Fprint(w, `{"esearchresult": {"idlist": ["111", "222"]}}`)
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "111,222" {
			t.Errorf("id = %q", r.URL.Query().Get("id"))
		}
		fmt.Fprint(w, "1. Title\nAbstract text.")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewPubMed("", time.Second)
	p.rest = newRESTClient(server.URL, time.Second)

	result, err := p.Call(context.Background(), "pubmed.search_abstracts", map[string]any{"term": "CFTR modulator"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	text, ok := result.(string)
	if !ok || !strings.Contains(text, "Abstract text.") {
		t.Fatalf("result = %#v", result)
	}
}

func TestPubMedNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"esearchresult": {"idlist": []}}`)
	}))
	defer server.Close()

	p := NewPubMed("", time.Second)
	p.rest = newRESTClient(server.URL, time.Second)

	result, err := p.Call(context.Background(), "pubmed.search_abstracts", map[string]any{"term": "zzz"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "No results found for the given search terms." {
		t.Fatalf("result = %v", result)
	}
}

func newLITLStore(t *testing.T) *litl.Store {
	t.Helper()
	store, err := litl.Open(filepath.Join(t.TempDir(), "litl.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLITLAssayHistory(t *testing.T) {
	store := newLITLStore(t)
	ctx := context.Background()
	if err := store.AddAssay(ctx, litl.AssayRecord{
		Compound: "CMP-881", Assay: AssayViability, Measure: "viability_pct", Value: 91, Units: "%",
	}); err != nil {
		t.Fatal(err)
	}

	p := NewLITL(store, nil, "")
	result, err := p.Call(ctx, "litl.assay_history", map[string]any{"compound": "CMP-881"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	records, ok := result.([]litl.AssayRecord)
	if !ok || len(records) != 1 || records[0].Value != 91 {
		t.Fatalf("result = %#v", result)
	}

	empty, err := p.Call(ctx, "litl.assay_history", map[string]any{"compound": "CMP-000"})
	if err != nil {
		t.Fatal(err)
	}
	if empty != "No internal assay records for this compound." {
		t.Fatalf("empty = %v", empty)
	}
}

func TestLITLRunHistoryAndCompounds(t *testing.T) {
	store := newLITLStore(t)
	ctx := context.Background()
	if err := store.AddAssay(ctx, litl.AssayRecord{
		Compound: "CMP-100", Assay: AssayEfficacy, Measure: "reversal_fraction", Value: 0.4,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.AddAssay(ctx, litl.AssayRecord{
		Compound: "CMP-200", Assay: AssayViability, Measure: "viability_pct", Value: 90, Units: "%",
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordVerdict(ctx, "run-1", &core.CompositeResult{
		Compound: "CMP-100", PriorityScore: 0.6, Confidence: 0.8, Reasoning: "promising",
	}); err != nil {
		t.Fatal(err)
	}

	p := NewLITL(store, nil, "")

	result, err := p.Call(ctx, "litl.run_history", map[string]any{"compound": "CMP-100"})
	if err != nil {
		t.Fatalf("run history: %v", err)
	}
	runs, ok := result.([]map[string]any)
	if !ok || len(runs) != 1 {
		t.Fatalf("result = %#v", result)
	}
	if runs[0]["agent"] != "coordinator" || runs[0]["score"] != 0.6 {
		t.Fatalf("run = %v", runs[0])
	}
	if _, has := runs[0]["trajectory_json"]; has {
		t.Fatal("trajectory must not leak into tool output")
	}

	empty, err := p.Call(ctx, "litl.run_history", map[string]any{"compound": "CMP-200"})
	if err != nil {
		t.Fatal(err)
	}
	if empty != "No prior triage runs for this compound." {
		t.Fatalf("empty = %v", empty)
	}

	names, err := p.Call(ctx, "litl.compounds", map[string]any{})
	if err != nil {
		t.Fatalf("compounds: %v", err)
	}
	got, ok := names.([]string)
	if !ok || len(got) != 2 || got[0] != "CMP-100" || got[1] != "CMP-200" {
		t.Fatalf("compounds = %#v", names)
	}
}

func TestLITLAnalogReasoning(t *testing.T) {
	store := newLITLStore(t)
	ctx := context.Background()
	for compound, value := range map[string]float64{"Nintedanib": 0.71, "Pirfenidone": 0.38} {
		if err := store.AddAssay(ctx, litl.AssayRecord{
			Compound: compound, Assay: AssayEfficacy, Measure: "reversal_fraction", Value: value,
		}); err != nil {
			t.Fatal(err)
		}
	}

	reasoner := llm.NewScriptedProvider()
	reasoner.AddContent("Nintedanib is the closest analog; expect moderate reversal.")
	p := NewLITL(store, reasoner, "reasoning-model")

	result, err := p.Call(ctx, "litl.efficacy_reasoning", map[string]any{"compound": "CMP-881"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "Nintedanib is the closest analog; expect moderate reversal." {
		t.Fatalf("result = %v", result)
	}

	prompt := reasoner.Requests()[0].Messages[0].Content
	for _, want := range []string{"Nintedanib", "Pirfenidone", "CMP-881"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestLITLAnalogReasoningEmptyTable(t *testing.T) {
	p := NewLITL(newLITLStore(t), llm.NewScriptedProvider(), "reasoning-model")
	result, err := p.Call(context.Background(), "litl.toxicity_reasoning", map[string]any{"compound": "CMP-881"})
	if err != nil {
		t.Fatal(err)
	}
	if result != "No relevant compound found in the reference data." {
		t.Fatalf("result = %v", result)
	}
}

func TestRegisterAllProviders(t *testing.T) {
	r := gateway.NewRegistry()
	err := Register(r,
		NewPubChem(time.Second),
		NewChEMBL(time.Second),
		NewTavily("key", time.Second),
		NewPubMed("", time.Second),
		NewLITL(newLITLStore(t), llm.NewScriptedProvider(), "m"),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, tool := range []string{
		"pubchem.search_cid", "pubchem.compound_properties", "pubchem.bioassay_summary",
		"pubchem.toxicity_sections", "pubchem.drug_summary",
		"chembl.search_molecule", "chembl.bioactivities", "chembl.mechanisms", "chembl.drug_warnings",
		"web.search", "pubmed.search_abstracts",
		"litl.assay_history", "litl.efficacy_reasoning", "litl.toxicity_reasoning",
		"litl.run_history", "litl.compounds",
	} {
		if _, _, ok := r.Lookup(tool); !ok {
			t.Fatalf("tool %s not registered", tool)
		}
	}
}
