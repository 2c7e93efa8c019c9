package pushduck

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/abhay-ramesh/pushduck/schema"
)

// FileDescriptor is the client-supplied, server-validated shape of an
// upload candidate described in schema.FileDescriptor.
type FileDescriptor = schema.FileDescriptor

// Metadata is the accumulated, middleware-produced context for one file.
// Each middleware's return value is shallow-merged into the metadata
// passed to the next.
type Metadata map[string]any

// Merge returns a new Metadata with other's keys overlaid on m's. Neither
// input is mutated — this is how the middleware chain avoids letting one
// middleware's return value alias another's map.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// MiddlewareContext is passed to every middleware function in a route's
// chain. It is a read-only view of the request; middleware must not
// attempt to mutate Files or File — only the returned Metadata carries
// forward.
type MiddlewareContext struct {
	Request  *http.Request
	Route    string
	File     FileDescriptor
	Files    []FileDescriptor
	Metadata Metadata
}

// MiddlewareFunc enriches metadata for one file, or reports failure. Go has
// no exceptions, so "middleware throws" (spec's async middleware model)
// becomes an explicit error return; the router folds a non-nil error into
// PresignResult.Error and skips remaining middleware and signing for that
// file.
type MiddlewareFunc func(ctx context.Context, mc MiddlewareContext) (Metadata, error)

// UploadContext is passed to OnUploadStart and OnUploadError hooks.
type UploadContext struct {
	Route    string
	File     FileDescriptor
	Key      string
	Metadata Metadata
}

// CompletionContext is passed to OnUploadComplete hooks.
type CompletionContext struct {
	Route    string
	Key      string
	File     FileDescriptor
	Metadata Metadata
	URL      string
	ETag     string
}

// Route wraps a Schema with a middleware chain, an optional key generator
// and path prefix override, and per-route lifecycle hooks. Build one with
// NewRoute(schema).
type Route struct {
	name            string
	schema          *schema.Schema
	middleware      []MiddlewareFunc
	pathPrefix      string
	generateKey     GenerateKeyFunc
	hooks           Hooks
	credentialLabel string
}

// RouteBuilder constructs a Route via chained calls.
type RouteBuilder struct {
	r *Route
}

// NewRoute starts a RouteBuilder wrapping the given schema.
func NewRoute(s *schema.Schema) *RouteBuilder {
	return &RouteBuilder{r: &Route{schema: s}}
}

// Middleware appends one middleware function to the chain. Middleware run
// strictly sequentially, in the order added.
func (b *RouteBuilder) Middleware(fn MiddlewareFunc) *RouteBuilder {
	b.r.middleware = append(b.r.middleware, fn)
	return b
}

// Paths sets a per-route path prefix and/or key generator, overriding the
// config-level equivalents. See resolveKey for the full precedence order.
func (b *RouteBuilder) Paths(prefix string, generateKey GenerateKeyFunc) *RouteBuilder {
	b.r.pathPrefix = prefix
	b.r.generateKey = generateKey
	return b
}

// OnUploadStart sets the hook fired during presign, after validation and
// before signing.
func (b *RouteBuilder) OnUploadStart(fn func(ctx *UploadContext)) *RouteBuilder {
	b.r.hooks.OnUploadStart = fn
	return b
}

// OnUploadComplete sets the hook fired during the complete phase for each
// file whose completion record reports success.
func (b *RouteBuilder) OnUploadComplete(fn func(ctx *CompletionContext)) *RouteBuilder {
	b.r.hooks.OnUploadComplete = fn
	return b
}

// OnUploadError sets the hook fired when validation, middleware, or signing
// fails during presign, or when a completion record itself reports an
// error.
func (b *RouteBuilder) OnUploadError(fn func(ctx *UploadContext, err error)) *RouteBuilder {
	b.r.hooks.OnUploadError = fn
	return b
}

// ScopedCredentials sets a credential-scope label for the route: every PUT
// this route presigns is signed with provider.DeriveScopedCredentials(cfg,
// label) instead of the shared provider credentials directly. This only
// authenticates against a storage backend that independently derives and
// recognizes the same per-label sub-credential — it does not work against
// AWS S3 or any other provider that only knows statically provisioned IAM
// keys. Leave unset (the default) to sign every route with the shared
// provider credentials.
func (b *RouteBuilder) ScopedCredentials(label string) *RouteBuilder {
	b.r.credentialLabel = label
	return b
}

// Build finalizes the Route. name is assigned by Router.Route when the
// route is registered, not here — a Route has no identity until it is
// added to a Router.
func (b *RouteBuilder) Build() *Route {
	route := *b.r
	route.middleware = append([]MiddlewareFunc(nil), b.r.middleware...)
	return &route
}

// Schema returns the route's schema.
func (r *Route) Schema() *schema.Schema { return r.schema }

var disallowedKeyChars = regexp.MustCompile(`[^A-Za-z0-9._/\-]`)

// resolveKey implements spec.md §4.4's key-generation precedence:
//  1. route-level generateKey, if set — called with no prefix injection.
//  2. else config-level paths.generateKey, if set.
//  3. else the default algorithm: "{prefix}/{timestamp-ms}/{8-char-base36}/{sanitized name}",
//     using the route's pathPrefix if set, else the config's paths.Prefix.
func resolveKey(route *Route, cfg UploadConfig, file FileDescriptor, meta Metadata) (string, error) {
	switch {
	case route.generateKey != nil:
		return sanitizeKey(route.generateKey(file, meta)), nil
	case cfg.paths.GenerateKey != nil:
		return sanitizeKey(cfg.paths.GenerateKey(file, meta)), nil
	default:
		prefix := cfg.paths.Prefix
		if route.pathPrefix != "" {
			prefix = route.pathPrefix
		}
		suffix, err := randomBase36(8)
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, 4)
		if prefix != "" {
			parts = append(parts, prefix)
		}
		parts = append(parts,
			fmt.Sprintf("%d", time.Now().UnixMilli()),
			suffix,
			sanitizeFilename(file.Name),
		)
		return sanitizeKey(strings.Join(parts, "/")), nil
	}
}

// sanitizeKey collapses ".." sequences, strips a leading "/", replaces any
// character outside [A-Za-z0-9._/-] with "_", and truncates to 1024 bytes —
// the limits spec.md §4.4 requires regardless of which key-generation path
// produced the key.
func sanitizeKey(key string) string {
	for strings.Contains(key, "..") {
		key = strings.ReplaceAll(key, "..", ".")
	}
	key = strings.TrimPrefix(key, "/")
	key = disallowedKeyChars.ReplaceAllString(key, "_")
	if len(key) > 1024 {
		key = key[:1024]
	}
	return key
}

// sanitizeFilename strips path separators from a client-supplied file name
// before it becomes the final key segment, then applies the same character
// allow-list as sanitizeKey.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return disallowedKeyChars.ReplaceAllString(name, "_")
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// randomBase36 returns a random lowercase base36 string of length n, used
// by the default key generator to make concurrent uploads to the same
// prefix/millisecond collision-resistant (spec.md §8 property 5).
func randomBase36(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("pushduck: failed to generate random key suffix: %w", err)
		}
		out[i] = base36Alphabet[idx.Int64()]
	}
	return string(out), nil
}
