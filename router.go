package pushduck

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/abhay-ramesh/pushduck/internal/audit"
	"github.com/abhay-ramesh/pushduck/internal/logger"
	"github.com/abhay-ramesh/pushduck/internal/metrics"
	"github.com/abhay-ramesh/pushduck/internal/ratelimit"
	"github.com/abhay-ramesh/pushduck/internal/telemetry"
	"github.com/abhay-ramesh/pushduck/provider"
	"github.com/abhay-ramesh/pushduck/schema"
	"github.com/abhay-ramesh/pushduck/signer"
	"github.com/abhay-ramesh/pushduck/storage"
)

// defaultConcurrency bounds how many files in one presign/complete batch are
// processed at once (spec.md §4.5's "implementation-defined fan-out, default
// 8"). Override with Router.WithConcurrency.
const defaultConcurrency = 8

// Router owns a fixed set of named routes plus the shared config every
// request dispatches against. Build one with NewRouter, register routes with
// Route, then obtain the wire handlers with Handlers.
type Router struct {
	cfg UploadConfig

	routes map[string]*Route
	order  []string // registration order, used by the GET capability listing

	storage     *storage.Facade
	limiter     *ratelimit.Limiter
	rlConfig    ratelimit.Config
	audit       audit.Sink
	log         *slog.Logger
	concurrency int
}

// NewRouter creates a Router bound to cfg. Rate limiting degrades to
// always-allow if cfg.Security().RateLimiting is nil or its Store is nil;
// audit logging defaults to audit.NoopSink.
func NewRouter(cfg UploadConfig) *Router {
	var rlStore ratelimit.Store
	rlConfig := ratelimit.DefaultConfig()
	if rl := cfg.Security().RateLimiting; rl != nil {
		rlStore = rl.Store
		rlConfig = ratelimit.Config{
			PresignRate:    rl.PresignRate,
			PresignWindow:  rl.PresignWindow,
			CompleteRate:   rl.CompleteRate,
			CompleteWindow: rl.CompleteWindow,
		}
	}

	return &Router{
		cfg:         cfg,
		routes:      make(map[string]*Route),
		storage:     storage.New(cfg.Provider(), nil),
		limiter:     ratelimit.New(rlStore),
		rlConfig:    rlConfig,
		audit:       audit.NoopSink{},
		log:         logger.FromContext(context.Background()),
		concurrency: defaultConcurrency,
	}
}

// Route registers route under name, overwriting any route previously
// registered under the same name. Returns the Router for chaining.
func (rt *Router) Route(name string, route *Route) *Router {
	if _, exists := rt.routes[name]; !exists {
		rt.order = append(rt.order, name)
	}
	bound := *route
	bound.name = name
	rt.routes[name] = &bound
	return rt
}

// WithAudit sets the Sink lifecycle completions are recorded to.
func (rt *Router) WithAudit(sink audit.Sink) *Router {
	rt.audit = sink
	return rt
}

// WithLogger sets the logger used for internal diagnostics.
func (rt *Router) WithLogger(log *slog.Logger) *Router {
	rt.log = log
	return rt
}

// WithConcurrency overrides the default per-batch fan-out (must be > 0).
func (rt *Router) WithConcurrency(n int) *Router {
	if n > 0 {
		rt.concurrency = n
	}
	return rt
}

// Handlers returns the GET (capability discovery) and POST (presign/
// complete) handlers spec.md §4.5 describes.
func (rt *Router) Handlers() (get http.HandlerFunc, post http.HandlerFunc) {
	return rt.handleGET, rt.handlePOST
}

// ── wire types (spec.md §6) ─────────────────────────────────────────────────

// PresignResult is one file's outcome from an action=presign request.
type PresignResult struct {
	Success      bool           `json:"success"`
	Key          string         `json:"key,omitempty"`
	PresignedURL string         `json:"presignedUrl,omitempty"`
	File         FileDescriptor `json:"file"`
	Metadata     Metadata       `json:"metadata,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// PresignResponse wraps the per-file results of an action=presign request.
type PresignResponse struct {
	Success bool            `json:"success"`
	Results []PresignResult `json:"results"`
}

// CompletionRecord is one file's completion report from the client, sent in
// an action=complete request. Error is set by the client when its own
// direct-to-storage PUT failed; a non-empty Error short-circuits
// OnUploadComplete in favor of OnUploadError.
type CompletionRecord struct {
	Key      string         `json:"key"`
	File     FileDescriptor `json:"file"`
	Metadata Metadata       `json:"metadata,omitempty"`
	ETag     string         `json:"etag,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// CompletionResult is one file's outcome from an action=complete request.
type CompletionResult struct {
	Success bool   `json:"success"`
	Key     string `json:"key,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CompletionResponse wraps the per-file results of an action=complete request.
type CompletionResponse struct {
	Success bool               `json:"success"`
	Results []CompletionResult `json:"results"`
}

// wireEnvelope is the union of every field either request shape can carry;
// unused fields simply decode to their zero value.
type wireEnvelope struct {
	Action      string             `json:"action"`
	Route       string             `json:"route"`
	Files       []FileDescriptor   `json:"files"`
	Completions []CompletionRecord `json:"completions"`
}

// SchemaDescription is the public-facets-only view of a Schema exposed by
// the GET capability-discovery handler.
type SchemaDescription struct {
	Kind       string             `json:"kind"`
	MaxSize    int64              `json:"maxSize,omitempty"`
	Types      []string           `json:"types,omitempty"`
	Dimensions *schema.Dimensions `json:"dimensions,omitempty"`
}

// RouteDescription names one registered route and its public schema facets.
type RouteDescription struct {
	Name   string            `json:"name"`
	Schema SchemaDescription `json:"schema"`
}

// ── GET: capability discovery ───────────────────────────────────────────────

func (rt *Router) handleGET(w http.ResponseWriter, req *http.Request) {
	descs := make([]RouteDescription, 0, len(rt.order))
	for _, name := range rt.order {
		s := rt.routes[name].schema
		descs = append(descs, RouteDescription{
			Name: name,
			Schema: SchemaDescription{
				Kind:       string(s.Kind()),
				MaxSize:    s.MaxSize(),
				Types:      s.AllowedTypes(),
				Dimensions: s.DimensionHints(),
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "routes": descs})
}

// ── POST: presign / complete dispatch ───────────────────────────────────────

func (rt *Router) handlePOST(w http.ResponseWriter, req *http.Request) {
	rt.applyCORS(w, req)
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var env wireEnvelope
	if req.Body != nil {
		if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
			rt.writeProtocolError(w, "", "", NewError(CodeInvalidRequest, "malformed JSON body: "+err.Error()))
			return
		}
	}

	action := env.Action
	if action == "" {
		action = req.URL.Query().Get("action")
	}
	routeName := env.Route
	if routeName == "" {
		routeName = req.URL.Query().Get("route")
	}

	if action != "presign" && action != "complete" {
		rt.writeProtocolError(w, routeName, action, NewError(CodeInvalidRequest, `action must be "presign" or "complete"`))
		return
	}

	route, ok := rt.routes[routeName]
	if !ok {
		rt.writeProtocolError(w, routeName, action, NewError(CodeUnknownRoute, fmt.Sprintf("no such route %q", routeName)))
		return
	}

	clientKey := ratelimit.ClientIP(req)
	var allowed bool
	var retryAfter int
	if action == "presign" {
		allowed, retryAfter = rt.limiter.CheckPresign(req.Context(), clientKey, rt.rlConfig)
	} else {
		allowed, retryAfter = rt.limiter.CheckComplete(req.Context(), clientKey, rt.rlConfig)
	}
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		rt.writeProtocolError(w, routeName, action, NewError(CodeRateLimited, "rate limit exceeded"))
		return
	}

	start := time.Now()
	status := http.StatusOK

	switch action {
	case "presign":
		if len(env.Files) == 0 {
			rt.writeProtocolError(w, routeName, action, NewError(CodeInvalidRequest, "files must be non-empty"))
			return
		}
		resp := rt.presign(req, route, env.Files)
		writeJSON(w, status, resp)
	case "complete":
		if len(env.Completions) == 0 {
			rt.writeProtocolError(w, routeName, action, NewError(CodeInvalidRequest, "completions must be non-empty"))
			return
		}
		resp := rt.complete(req, route, env.Completions)
		writeJSON(w, status, resp)
	}

	metrics.HTTPRequests.WithLabelValues(routeName, action, strconv.Itoa(status)).Inc()
	metrics.HTTPDuration.WithLabelValues(routeName, action).Observe(time.Since(start).Seconds())
}

// ── presign phase ────────────────────────────────────────────────────────────

func (rt *Router) presign(httpReq *http.Request, route *Route, files []FileDescriptor) PresignResponse {
	results := make([]PresignResult, len(files))
	sem := make(chan struct{}, rt.concurrency)
	var wg sync.WaitGroup

	for i, file := range files {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, file FileDescriptor) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = rt.presignOne(httpReq, route, file, files)
		}(i, file)
	}
	wg.Wait()

	allOK := true
	for _, r := range results {
		if !r.Success {
			allOK = false
			break
		}
	}
	return PresignResponse{Success: allOK, Results: results}
}

// presignOne runs the per-file state machine from spec.md §4.5:
// validating → middleware-running → key-generating → signing → onUploadStart.
func (rt *Router) presignOne(httpReq *http.Request, route *Route, file FileDescriptor, allFiles []FileDescriptor) PresignResult {
	ctx := httpReq.Context()

	valResult := route.schema.Validate(file)
	if !valResult.OK {
		field := "file"
		if len(valResult.Errors) > 0 {
			field = valResult.Errors[0].Field
		}
		metrics.ValidationFailures.WithLabelValues(route.name, field).Inc()
		rt.fireUploadError(route, file, "", nil, fmt.Errorf("%s", valResult.FirstError()))
		return PresignResult{Success: false, File: file, Error: valResult.FirstError()}
	}

	meta := Metadata{}
	for _, mw := range route.middleware {
		mc := MiddlewareContext{Request: httpReq, Route: route.name, File: file, Files: allFiles, Metadata: meta}
		out, err := mw(ctx, mc)
		if err != nil {
			telemetry.CaptureError(err, map[string]string{"route": route.name, "stage": "middleware"})
			rt.fireUploadError(route, file, "", meta, err)
			return PresignResult{Success: false, File: file, Error: err.Error()}
		}
		meta = meta.Merge(out)
	}

	key, err := resolveKey(route, rt.cfg, file, meta)
	if err != nil {
		telemetry.CaptureError(err, map[string]string{"route": route.name, "stage": "key-generation"})
		rt.fireUploadError(route, file, "", meta, err)
		return PresignResult{Success: false, File: file, Error: err.Error()}
	}

	presignedURL, err := rt.presignPUT(route, file, key)
	if err != nil {
		rt.log.Error("pushduck: presign failed", "route", route.name, "key", key, "err", err)
		telemetry.CaptureError(err, map[string]string{"route": route.name, "stage": "signing", "key": key})
		rt.fireUploadError(route, file, key, meta, err)
		return PresignResult{Success: false, File: file, Error: err.Error()}
	}
	metrics.SignerCalls.WithLabelValues("presign").Inc()
	metrics.PresignedURLs.WithLabelValues(route.name).Inc()

	rt.fireUploadStart(route, file, key, meta)

	return PresignResult{Success: true, Key: key, PresignedURL: presignedURL, File: file, Metadata: meta}
}

// presignPUT builds a presigned PUT URL for key, signing Content-Type and
// Content-Length into the request so the direct client upload must match
// what was declared in the presign call (spec.md §6).
//
// If route carries a credential-scope label (RouteBuilder.ScopedCredentials),
// the PUT is signed with provider.DeriveScopedCredentials(cfg.Credentials,
// label) instead of cfg.Credentials directly — see that function's doc
// comment for the backend requirement this depends on.
func (rt *Router) presignPUT(route *Route, file FileDescriptor, key string) (string, error) {
	cfg := rt.cfg.provider
	var raw string
	if cfg.ForcePathStyle {
		raw = fmt.Sprintf("%s/%s/%s", cfg.Endpoint, cfg.Bucket, key)
	} else {
		raw = fmt.Sprintf("%s/%s", cfg.Endpoint, key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("pushduck: invalid object URL for key %q: %w", key, err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", file.Type)
	headers.Set("Content-Length", strconv.FormatInt(file.Size, 10))

	creds := cfg.Credentials
	if route.credentialLabel != "" {
		creds = provider.DeriveScopedCredentials(cfg.Credentials, route.credentialLabel)
	}

	req := &signer.Request{Method: http.MethodPut, URL: u, Headers: headers}
	opts := signer.Options{
		Service: "s3",
		Region:  cfg.Region,
		Credentials: signer.Credentials{
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
			SessionToken:    creds.SessionToken,
		},
	}
	signed := signer.Presign(req, opts, 0)
	return signed.String(), nil
}

// ── complete phase ───────────────────────────────────────────────────────────

func (rt *Router) complete(httpReq *http.Request, route *Route, completions []CompletionRecord) CompletionResponse {
	results := make([]CompletionResult, len(completions))
	sem := make(chan struct{}, rt.concurrency)
	var wg sync.WaitGroup

	for i, c := range completions {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c CompletionRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = rt.completeOne(httpReq, route, c)
		}(i, c)
	}
	wg.Wait()

	allOK := true
	for _, r := range results {
		if !r.Success {
			allOK = false
			break
		}
	}
	return CompletionResponse{Success: allOK, Results: results}
}

func (rt *Router) completeOne(httpReq *http.Request, route *Route, c CompletionRecord) CompletionResult {
	ctx := httpReq.Context()

	if c.Error != "" {
		rt.log.Warn("pushduck: client reported upload error", "route", route.name, "key", c.Key, "err", c.Error)
		rt.fireUploadError(route, c.File, c.Key, c.Metadata, fmt.Errorf("%s", c.Error))
		rt.audit.Record(ctx, audit.Entry{
			Route: route.name, Key: c.Key, Outcome: "error",
			Detail: map[string]any{"error": c.Error},
		})
		metrics.Completions.WithLabelValues(route.name, "error").Inc()
		return CompletionResult{Success: false, Key: c.Key, Error: c.Error}
	}

	publicURL := rt.storage.PublicURL(c.Key)
	rt.fireUploadComplete(route, c.Key, c.File, c.Metadata, publicURL, c.ETag)
	rt.audit.Record(ctx, audit.Entry{
		Route: route.name, Key: c.Key, Outcome: "ok",
		Detail: map[string]any{"etag": c.ETag},
	})
	metrics.Completions.WithLabelValues(route.name, "ok").Inc()
	return CompletionResult{Success: true, Key: c.Key, URL: publicURL}
}

// ── hook dispatch: route-level hooks take priority over config-level ones ──

// recoverHook logs and reports a panicking lifecycle hook so it never fails
// the HTTP response.
func (rt *Router) recoverHook(hook string, route *Route, key string) {
	if rec := recover(); rec != nil {
		err := fmt.Errorf("pushduck: %s hook panicked: %v", hook, rec)
		rt.log.Error("pushduck: lifecycle hook failed", "route", route.name, "key", key, "err", err)
		telemetry.CaptureError(err, map[string]string{"route": route.name, "stage": hook, "key": key})
	}
}

func (rt *Router) fireUploadStart(route *Route, file FileDescriptor, key string, meta Metadata) {
	defer rt.recoverHook("OnUploadStart", route, key)
	fn := route.hooks.OnUploadStart
	if fn == nil {
		fn = rt.cfg.hooks.OnUploadStart
	}
	if fn != nil {
		fn(&UploadContext{Route: route.name, File: file, Key: key, Metadata: meta})
	}
}

func (rt *Router) fireUploadComplete(route *Route, key string, file FileDescriptor, meta Metadata, url, etag string) {
	defer rt.recoverHook("OnUploadComplete", route, key)
	fn := route.hooks.OnUploadComplete
	if fn == nil {
		fn = rt.cfg.hooks.OnUploadComplete
	}
	if fn != nil {
		fn(&CompletionContext{Route: route.name, Key: key, File: file, Metadata: meta, URL: url, ETag: etag})
	}
}

func (rt *Router) fireUploadError(route *Route, file FileDescriptor, key string, meta Metadata, err error) {
	defer rt.recoverHook("OnUploadError", route, key)
	fn := route.hooks.OnUploadError
	if fn == nil {
		fn = rt.cfg.hooks.OnUploadError
	}
	if fn != nil {
		fn(&UploadContext{Route: route.name, File: file, Key: key, Metadata: meta}, err)
	}
}

// ── response helpers ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (rt *Router) writeProtocolError(w http.ResponseWriter, route, action string, err *Error) {
	metrics.HTTPRequests.WithLabelValues(route, action, strconv.Itoa(err.Code.HTTPStatus())).Inc()
	writeJSON(w, err.Code.HTTPStatus(), map[string]any{
		"success": false,
		"code":    string(err.Code),
		"error":   err.Message,
	})
}

func (rt *Router) applyCORS(w http.ResponseWriter, req *http.Request) {
	origins := rt.cfg.security.AllowedOrigins
	if len(origins) == 0 {
		return
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range origins {
		if allowed == "*" || allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			return
		}
	}
}

