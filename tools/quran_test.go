package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ansari-project/ansari-agent/model"
)

func TestQuranSearchInvoke(t *testing.T) {
	var gotQuery, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotAPIKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": "2:153", "text": "arabic text", "en_text": "O you who believe, seek help through patience and prayer."},
			{"id": "2:45", "text": "arabic text 2", "en_text": "And seek help through patience and prayer."}
		]`))
	}))
	defer srv.Close()

	tool := NewQuranSearchTool("test-key").WithBaseURL(srv.URL)

	blocks, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"patience"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if gotQuery != "patience" {
		t.Errorf("query param = %q", gotQuery)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("x-api-key = %q", gotAPIKey)
	}

	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	doc, ok := blocks[0].(model.DocumentBlock)
	if !ok {
		t.Fatalf("block 0 is %T, want DocumentBlock", blocks[0])
	}
	if doc.Title != "Ayah 2:153" {
		t.Errorf("title = %q", doc.Title)
	}
	if !strings.Contains(doc.Text, "patience and prayer") {
		t.Errorf("text missing translation: %q", doc.Text)
	}
	if doc.Metadata["citation"] != "2:153" {
		t.Errorf("citation = %q", doc.Metadata["citation"])
	}
}

func TestQuranSearchEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	tool := NewQuranSearchTool("test-key").WithBaseURL(srv.URL)
	blocks, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"nothing"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	// Empty is fine here; the synthetic document is added at tool-result
	// construction, not by the tool.
	if len(blocks) != 0 {
		t.Errorf("got %d blocks, want 0", len(blocks))
	}
}

func TestQuranSearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	tool := NewQuranSearchTool("bad-key").WithBaseURL(srv.URL)

	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"x"}`)); err == nil {
		t.Error("expected error on 403 response")
	}
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":""}`)); err == nil {
		t.Error("expected error on empty query")
	}
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{broken`)); err == nil {
		t.Error("expected error on malformed arguments")
	}
}
