package pushduck

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abhay-ramesh/pushduck/schema"
)

// Two Routers built from disjoint configs must not share any mutable state:
// registering a route on one must not appear on the other.
func TestPropertyRoutersAreIndependent(t *testing.T) {
	a := newTestRouter(t, nil).Route("only-a", NewRoute(schema.File()).Build())
	b := newTestRouter(t, nil)

	getB, _ := b.Handlers()
	req := httptest.NewRequest(http.MethodGet, "/api/upload", nil)
	rec := httptest.NewRecorder()
	getB(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if routes := resp["routes"].([]any); len(routes) != 0 {
		t.Errorf("router b should have no routes, got %+v", routes)
	}
	_ = a
}

// Per-file results must line up positionally with the request's files,
// regardless of which goroutine finishes first. A middleware that sleeps
// inversely proportional to index forces out-of-order completion.
func TestPropertyResultOrderSurvivesOutOfOrderCompletion(t *testing.T) {
	rt := newTestRouter(t, nil).Route("doc", NewRoute(
		schema.File(),
	).Middleware(func(ctx context.Context, mc MiddlewareContext) (Metadata, error) {
		for i, f := range mc.Files {
			if f.Name == mc.File.Name {
				time.Sleep(time.Duration(len(mc.Files)-i) * time.Millisecond)
			}
		}
		return Metadata{"index": mc.File.Name}, nil
	}).Build())
	_, post := rt.Handlers()

	const n = 20
	files := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		files[i] = map[string]any{"name": indexName(i), "size": 10, "type": "application/pdf"}
	}

	_, resp := doPOST(t, post, map[string]any{
		"action": "presign",
		"route":  "doc",
		"files":  files,
	})

	results := resp["results"].([]any)
	if len(results) != n {
		t.Fatalf("len(results) = %d, want %d", len(results), n)
	}
	for i := 0; i < n; i++ {
		file := results[i].(map[string]any)["file"].(map[string]any)
		if file["name"] != indexName(i) {
			t.Errorf("results[%d] carries file %v, want %s", i, file["name"], indexName(i))
		}
	}
}

func indexName(i int) string {
	return string(rune('a'+i%26)) + "-" + string(rune('0'+i/26)) + ".pdf"
}

// A batch where every file fails validation still returns HTTP 200 with
// success=false at the top level — partial or total failure is communicated
// in the body, never via the transport status (except for protocol errors).
func TestPropertyPartialFailureNeverChangesHTTPStatus(t *testing.T) {
	rt := newTestRouter(t, nil).Route("avatar", NewRoute(
		schema.Image().MaxFileSize("1B"),
	).Build())
	_, post := rt.Handlers()

	rec, resp := doPOST(t, post, map[string]any{
		"action": "presign",
		"route":  "avatar",
		"files":  []map[string]any{{"name": "a.png", "size": 999, "type": "image/png"}},
	})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even when every file fails", rec.Code)
	}
	if resp["success"] != false {
		t.Errorf("expected success=false, got %+v", resp)
	}
}

// Middleware must receive the metadata accumulated so far, not a reference
// it can corrupt for the next file in the batch — mutating the map handed
// to one middleware call must not leak into a sibling file's view.
func TestPropertyMiddlewareInputIsolatedPerFile(t *testing.T) {
	rt := newTestRouter(t, nil).Route("doc", NewRoute(
		schema.File(),
	).Middleware(func(ctx context.Context, mc MiddlewareContext) (Metadata, error) {
		mc.Metadata["mutated"] = "yes" // attempting to corrupt the shared map
		return Metadata{"file": mc.File.Name}, nil
	}).Build())
	_, post := rt.Handlers()

	_, resp := doPOST(t, post, map[string]any{
		"action": "presign",
		"route":  "doc",
		"files": []map[string]any{
			{"name": "a.pdf", "size": 1, "type": "application/pdf"},
			{"name": "b.pdf", "size": 1, "type": "application/pdf"},
		},
	})

	results := resp["results"].([]any)
	for i, want := range []string{"a.pdf", "b.pdf"} {
		meta := results[i].(map[string]any)["metadata"].(map[string]any)
		if meta["file"] != want {
			t.Errorf("results[%d] metadata.file = %v, want %s", i, meta["file"], want)
		}
	}
}

// Completion is side-effect-free on the router's own state: calling it twice
// with the same record yields the same URL and does not error.
func TestPropertyCompletionIsIdempotent(t *testing.T) {
	rt := newTestRouter(t, nil).Route("doc", NewRoute(schema.File()).Build())
	_, post := rt.Handlers()

	body := map[string]any{
		"action": "complete",
		"route":  "doc",
		"completions": []map[string]any{
			{"key": "docs/a.pdf", "file": map[string]any{"name": "a.pdf", "size": 10, "type": "application/pdf"}},
		},
	}

	_, first := doPOST(t, post, body)
	_, second := doPOST(t, post, body)

	r1 := first["results"].([]any)[0].(map[string]any)
	r2 := second["results"].([]any)[0].(map[string]any)
	if r1["url"] != r2["url"] {
		t.Errorf("completion URL changed between identical calls: %v != %v", r1["url"], r2["url"])
	}
}

// An UploadConfig is immutable after Build(): mutating the builder's slices
// afterward must not retroactively change an already-built config.
func TestPropertyConfigImmutableAfterBuild(t *testing.T) {
	b := NewConfigBuilder(testProviderConfig("https://example.invalid"))
	origins := []string{"https://a.example"}
	b.WithSecurity(Security{AllowedOrigins: origins})
	cfg := b.Build()

	origins[0] = "https://mutated.example"
	b.WithSecurity(Security{AllowedOrigins: origins})

	if cfg.Security().AllowedOrigins[0] != "https://a.example" {
		t.Errorf("built config's AllowedOrigins mutated after Build(): %v", cfg.Security().AllowedOrigins)
	}
}

// Malformed JSON bodies must produce a protocol-level 400, not a panic.
func TestPropertyMalformedBodyIsInvalidRequest(t *testing.T) {
	rt := newTestRouter(t, nil).Route("doc", NewRoute(schema.File()).Build())
	_, post := rt.Handlers()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	post(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed JSON", rec.Code)
	}
}
