package pushduck

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/abhay-ramesh/pushduck/provider"
	"github.com/abhay-ramesh/pushduck/schema"
)

func testProviderConfig(endpoint string) provider.Config {
	return provider.Config{
		Kind:     provider.Custom,
		Endpoint: endpoint,
		Region:   "us-east-1",
		Bucket:   "test-bucket",
		Credentials: provider.Credentials{
			AccessKeyID:     "AKIAEXAMPLE",
			SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
		},
	}
}

func newTestRouter(t *testing.T, build func(*ConfigBuilder)) *Router {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	b := NewConfigBuilder(testProviderConfig(backend.URL))
	if build != nil {
		build(b)
	}
	cfg := b.Build()
	return NewRouter(cfg)
}

func doPOST(t *testing.T, post http.HandlerFunc, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	post(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("unmarshal response: %v (body=%s)", err, rec.Body.String())
		}
	}
	return rec, decoded
}

// S1: happy-path presign against an image route, asserting key shape,
// presigned-URL query shape, and signed-header coverage.
func TestScenarioHappyPresignImageRoute(t *testing.T) {
	rt := newTestRouter(t, nil).Route("avatar", NewRoute(
		schema.Image().MaxFileSize("5MB").Formats("jpeg", "png"),
	).Paths("av", nil).Build())
	_, post := rt.Handlers()

	_, resp := doPOST(t, post, map[string]any{
		"action": "presign",
		"route":  "avatar",
		"files":  []map[string]any{{"name": "a.png", "size": 1024, "type": "image/png"}},
	})

	if resp["success"] != true {
		t.Fatalf("expected success=true, got %+v", resp)
	}
	results := resp["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r0 := results[0].(map[string]any)
	key, _ := r0["key"].(string)
	if !regexp.MustCompile(`^av/\d{13}/[a-z0-9]{8}/a\.png$`).MatchString(key) {
		t.Errorf("key %q does not match expected shape", key)
	}

	presignedURL, _ := r0["presignedUrl"].(string)
	u, err := url.Parse(presignedURL)
	if err != nil {
		t.Fatalf("presignedUrl not a valid URL: %v", err)
	}
	q := u.Query()
	if q.Get("X-Amz-Expires") != "3600" {
		t.Errorf("X-Amz-Expires = %q, want 3600", q.Get("X-Amz-Expires"))
	}
	signedHeaders := q.Get("X-Amz-SignedHeaders")
	for _, want := range []string{"content-length", "content-type", "host"} {
		if !strings.Contains(signedHeaders, want) {
			t.Errorf("X-Amz-SignedHeaders %q missing %q", signedHeaders, want)
		}
	}
}

// S2: a mixed batch where one file fails validation must still return 200
// with per-file success/failure, not abort the whole request.
func TestScenarioValidationFailureInMixedBatch(t *testing.T) {
	rt := newTestRouter(t, nil).Route("avatar", NewRoute(
		schema.Image().MaxFileSize("1KB"),
	).Paths("av", nil).Build())
	_, post := rt.Handlers()

	rec, resp := doPOST(t, post, map[string]any{
		"action": "presign",
		"route":  "avatar",
		"files": []map[string]any{
			{"name": "ok.png", "size": 100, "type": "image/png"},
			{"name": "big.png", "size": 999999, "type": "image/png"},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on partial failure", rec.Code)
	}
	if resp["success"] != false {
		t.Errorf("expected top-level success=false when one file fails")
	}
	results := resp["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].(map[string]any)["success"] != true {
		t.Errorf("file 0 should have succeeded")
	}
	if results[1].(map[string]any)["success"] != false {
		t.Errorf("file 1 should have failed validation")
	}
}

// S3: an unknown route name produces a 404 protocol error.
func TestScenarioUnknownRoute(t *testing.T) {
	rt := newTestRouter(t, nil)
	_, post := rt.Handlers()

	rec, resp := doPOST(t, post, map[string]any{
		"action": "presign",
		"route":  "does-not-exist",
		"files":  []map[string]any{{"name": "a.png", "size": 1, "type": "image/png"}},
	})

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if resp["code"] != "UnknownRoute" {
		t.Errorf("code = %v, want UnknownRoute", resp["code"])
	}
	if resp["success"] != false {
		t.Errorf("expected success=false")
	}
}

// S4: middleware-produced metadata propagates into the presign result, and
// subsequent middleware sees what prior middleware returned merged in.
func TestScenarioMiddlewareMetadataPropagation(t *testing.T) {
	rt := newTestRouter(t, nil).Route("doc", NewRoute(
		schema.File().MaxFileSize("10MB"),
	).Middleware(func(ctx context.Context, mc MiddlewareContext) (Metadata, error) {
		return Metadata{"owner": "alice"}, nil
	}).Middleware(func(ctx context.Context, mc MiddlewareContext) (Metadata, error) {
		if mc.Metadata["owner"] != "alice" {
			t.Errorf("second middleware did not see first middleware's metadata: %+v", mc.Metadata)
		}
		return Metadata{"stage": "reviewed"}, nil
	}).Build())
	_, post := rt.Handlers()

	_, resp := doPOST(t, post, map[string]any{
		"action": "presign",
		"route":  "doc",
		"files":  []map[string]any{{"name": "a.pdf", "size": 100, "type": "application/pdf"}},
	})

	results := resp["results"].([]any)
	meta := results[0].(map[string]any)["metadata"].(map[string]any)
	if meta["owner"] != "alice" || meta["stage"] != "reviewed" {
		t.Errorf("expected merged metadata from both middleware, got %+v", meta)
	}
}

// S5: completion fires the OnUploadComplete hook with a populated public URL.
func TestScenarioCompletionFiresHookWithPublicURL(t *testing.T) {
	var gotURL, gotKey string
	rt := newTestRouter(t, nil).Route("doc", NewRoute(
		schema.File(),
	).OnUploadComplete(func(ctx *CompletionContext) {
		gotURL = ctx.URL
		gotKey = ctx.Key
	}).Build())
	_, post := rt.Handlers()

	_, resp := doPOST(t, post, map[string]any{
		"action": "complete",
		"route":  "doc",
		"completions": []map[string]any{
			{"key": "docs/a.pdf", "file": map[string]any{"name": "a.pdf", "size": 10, "type": "application/pdf"}, "etag": `"abc"`},
		},
	})

	if resp["success"] != true {
		t.Fatalf("expected success=true, got %+v", resp)
	}
	if gotKey != "docs/a.pdf" {
		t.Errorf("hook saw key %q, want docs/a.pdf", gotKey)
	}
	if gotURL == "" {
		t.Errorf("hook saw empty public URL")
	}
}

// S6: a path-style (R2-like) provider still produces a usable presigned URL.
func TestScenarioPathStyleProvider(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	cfg := NewConfigBuilder(provider.Config{
		Kind:           provider.CloudflareR2,
		Endpoint:       backend.URL,
		Region:         "auto",
		Bucket:         "r2-bucket",
		ForcePathStyle: true,
		Credentials: provider.Credentials{
			AccessKeyID:     "AKIAEXAMPLE",
			SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
		},
	}).Build()
	rt := NewRouter(cfg).Route("doc", NewRoute(schema.File()).Build())
	_, post := rt.Handlers()

	_, resp := doPOST(t, post, map[string]any{
		"action": "presign",
		"route":  "doc",
		"files":  []map[string]any{{"name": "a.pdf", "size": 10, "type": "application/pdf"}},
	})

	results := resp["results"].([]any)
	r0 := results[0].(map[string]any)
	presignedURL, _ := r0["presignedUrl"].(string)
	u, err := url.Parse(presignedURL)
	if err != nil {
		t.Fatalf("presignedUrl not a valid URL: %v", err)
	}
	if !strings.HasPrefix(u.Path, "/r2-bucket/") {
		t.Errorf("path-style presigned URL path = %q, want it to start with /r2-bucket/", u.Path)
	}
}

// AWS's default (virtual-hosted) provider embeds the bucket in the
// endpoint's host, not its own path segment — the presigned URL must not
// repeat the bucket name as a path component on top of that.
func TestScenarioAWSProviderDoesNotDoubleBucketInPath(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	resolved, err := provider.Resolve(provider.AWS, provider.Overrides{
		Endpoint:        backend.URL, // stands in for https://test-bucket.s3.us-east-1.amazonaws.com
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
	}, provider.OSEnv{})
	if err != nil {
		t.Fatalf("provider.Resolve: %v", err)
	}
	if resolved.ForcePathStyle {
		t.Fatalf("AWS provider should default to virtual-hosted style (ForcePathStyle=false)")
	}

	rt := NewRouter(NewConfigBuilder(*resolved).Build()).Route("doc", NewRoute(schema.File()).Build())
	_, post := rt.Handlers()

	_, resp := doPOST(t, post, map[string]any{
		"action": "presign",
		"route":  "doc",
		"files":  []map[string]any{{"name": "a.pdf", "size": 10, "type": "application/pdf"}},
	})

	results := resp["results"].([]any)
	r0 := results[0].(map[string]any)
	presignedURL, _ := r0["presignedUrl"].(string)
	u, err := url.Parse(presignedURL)
	if err != nil {
		t.Fatalf("presignedUrl not a valid URL: %v", err)
	}
	if strings.Count(u.Path, "test-bucket") != 0 {
		t.Errorf("virtual-hosted presigned URL path = %q, must not repeat the bucket name as a path segment", u.Path)
	}
	if key := results[0].(map[string]any)["key"].(string); !strings.HasSuffix(u.Path, "/"+key) {
		t.Errorf("path = %q, want it to end with the object key %q directly after the host", u.Path, key)
	}
}

// query-string dispatch must work identically to body dispatch for action/route.
func TestQueryStringDispatchMatchesBodyDispatch(t *testing.T) {
	rt := newTestRouter(t, nil).Route("doc", NewRoute(schema.File()).Build())
	_, post := rt.Handlers()

	raw, _ := json.Marshal(map[string]any{
		"files": []map[string]any{{"name": "a.pdf", "size": 10, "type": "application/pdf"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/upload?action=presign&route=doc", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	post(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["success"] != true {
		t.Errorf("expected success=true via query-string dispatch, got %+v", resp)
	}
}

// GET returns capability discovery describing every registered route.
func TestCapabilityDiscoveryListsRoutes(t *testing.T) {
	rt := newTestRouter(t, nil).Route("avatar", NewRoute(
		schema.Image().MaxFileSize("2MB").Formats("png"),
	).Build())
	get, _ := rt.Handlers()

	req := httptest.NewRequest(http.MethodGet, "/api/upload", nil)
	rec := httptest.NewRecorder()
	get(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["success"] != true {
		t.Fatalf("expected success=true, got %+v", resp)
	}
	routes := resp["routes"].([]any)
	if len(routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(routes))
	}
	r0 := routes[0].(map[string]any)
	if r0["name"] != "avatar" {
		t.Errorf("route name = %v, want avatar", r0["name"])
	}
}

// A route built with ScopedCredentials signs its presigned PUT with
// provider.DeriveScopedCredentials instead of the shared provider
// credentials, so its Authorization/X-Amz-Credential carries a different
// access key ID than an unscoped route on the same router.
func TestScenarioScopedCredentialsOverrideSigningKey(t *testing.T) {
	rt := newTestRouter(t, nil).
		Route("plain", NewRoute(schema.File()).Build()).
		Route("scoped", NewRoute(schema.File()).ScopedCredentials("tenant-42").Build())
	_, post := rt.Handlers()

	presignOne := func(route string) string {
		_, resp := doPOST(t, post, map[string]any{
			"action": "presign",
			"route":  route,
			"files":  []map[string]any{{"name": "a.pdf", "size": 10, "type": "application/pdf"}},
		})
		results := resp["results"].([]any)
		r0 := results[0].(map[string]any)
		presignedURL, _ := r0["presignedUrl"].(string)
		return presignedURL
	}

	plainURL := presignOne("plain")
	scopedURL := presignOne("scoped")

	plainKeyID := mustQueryParam(t, plainURL, "X-Amz-Credential")
	scopedKeyID := mustQueryParam(t, scopedURL, "X-Amz-Credential")

	if plainKeyID == scopedKeyID {
		t.Errorf("scoped route's X-Amz-Credential = %q, want it to differ from the plain route's %q", scopedKeyID, plainKeyID)
	}

	want := provider.DeriveScopedCredentials(testProviderConfig("").Credentials, "tenant-42")
	if !strings.HasPrefix(scopedKeyID, want.AccessKeyID+"/") {
		t.Errorf("scoped X-Amz-Credential = %q, want it to start with derived access key %q", scopedKeyID, want.AccessKeyID)
	}
}

func mustQueryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL %q: %v", rawURL, err)
	}
	v := u.Query().Get(key)
	if v == "" {
		t.Fatalf("URL %q missing query param %q", rawURL, key)
	}
	return v
}
