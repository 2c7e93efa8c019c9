package pushduck

import (
	"time"

	"github.com/abhay-ramesh/pushduck/internal/ratelimit"
	"github.com/abhay-ramesh/pushduck/provider"
)

// GenerateKeyFunc builds an object key for a file given its descriptor and
// the metadata accumulated by middleware. Used by both UploadConfig.Paths
// and Route's own generator; see resolveKey for the precedence order.
type GenerateKeyFunc func(file FileDescriptor, metadata Metadata) string

// Defaults holds per-file constraints and upload options that Build copies
// into the UploadConfig and UploadConfig.Defaults returns. The Router does
// not apply them: validation uses only the route's own schema, and
// presigned PUTs carry no ACL or metadata headers taken from here.
type Defaults struct {
	MaxFileSize string // human-readable ("5MB"); "" means no default
	AllowedTypes []string
	ACL          string
	Metadata     map[string]string
}

// Paths controls how object keys are generated and, optionally, a global
// prefix applied by the default key generator.
type Paths struct {
	Prefix      string
	GenerateKey GenerateKeyFunc
}

// Security holds optional rate limiting and CORS-origin configuration.
// Both are ambient concerns: the router works with either left unset.
type Security struct {
	AllowedOrigins []string
	RateLimiting   *RateLimiting
}

// RateLimiting configures the router's request throttling. Store may be
// nil, in which case rate limiting is a no-op (fail-open).
type RateLimiting struct {
	Store          ratelimit.Store
	PresignRate    int
	PresignWindow  time.Duration
	CompleteRate   int
	CompleteWindow time.Duration
}

// Hooks holds global lifecycle callbacks, used by any route that doesn't
// define its own. See Route.Hooks for the per-route, higher-priority set.
type Hooks struct {
	OnUploadStart    func(ctx *UploadContext)
	OnUploadComplete func(ctx *CompletionContext)
	OnUploadError    func(ctx *UploadContext, err error)
}

// UploadConfig is the immutable root configuration shared by the Router and
// the Storage Façade. Build it once with NewConfigBuilder(...).Build() —
// there is no process-wide mutable singleton; every dependent object holds
// its own copy of the fields it needs.
type UploadConfig struct {
	provider provider.Config
	defaults Defaults
	paths    Paths
	security Security
	hooks    Hooks
}

// Provider returns the resolved provider configuration.
func (c UploadConfig) Provider() provider.Config { return c.provider }

// Defaults returns the configured per-route fallback constraints.
func (c UploadConfig) Defaults() Defaults { return c.defaults }

// Paths returns the configured key-generation settings.
func (c UploadConfig) Paths() Paths { return c.paths }

// Security returns the configured rate limiting / CORS settings.
func (c UploadConfig) Security() Security { return c.security }

// Hooks returns the configured global lifecycle callbacks.
func (c UploadConfig) Hooks() Hooks { return c.hooks }

// ConfigBuilder builds an UploadConfig via chained calls. Each method
// returns the same builder; Build() copies every field into a fresh,
// independent UploadConfig so later mutation of the builder (or of slices
// passed into it) cannot affect an already-built config.
type ConfigBuilder struct {
	provider provider.Config
	defaults Defaults
	paths    Paths
	security Security
	hooks    Hooks
}

// NewConfigBuilder starts a builder from an already-resolved provider
// config (see provider.Resolve).
func NewConfigBuilder(p provider.Config) *ConfigBuilder {
	return &ConfigBuilder{provider: p}
}

// WithDefaults sets fallback per-file constraints and options.
func (b *ConfigBuilder) WithDefaults(d Defaults) *ConfigBuilder {
	d.AllowedTypes = append([]string(nil), d.AllowedTypes...)
	b.defaults = d
	return b
}

// WithPaths sets the global key prefix and/or generator.
func (b *ConfigBuilder) WithPaths(p Paths) *ConfigBuilder {
	b.paths = p
	return b
}

// WithSecurity sets rate limiting and allowed-origin configuration.
func (b *ConfigBuilder) WithSecurity(s Security) *ConfigBuilder {
	s.AllowedOrigins = append([]string(nil), s.AllowedOrigins...)
	b.security = s
	return b
}

// WithHooks sets global lifecycle callbacks used by routes that don't
// define their own.
func (b *ConfigBuilder) WithHooks(h Hooks) *ConfigBuilder {
	b.hooks = h
	return b
}

// Build returns an immutable UploadConfig. Safe to call more than once;
// each call returns an independent copy.
func (b *ConfigBuilder) Build() UploadConfig {
	return UploadConfig{
		provider: b.provider,
		defaults: Defaults{
			MaxFileSize:  b.defaults.MaxFileSize,
			AllowedTypes: append([]string(nil), b.defaults.AllowedTypes...),
			ACL:          b.defaults.ACL,
			Metadata:     copyStringMap(b.defaults.Metadata),
		},
		paths: b.paths,
		security: Security{
			AllowedOrigins: append([]string(nil), b.security.AllowedOrigins...),
			RateLimiting:   b.security.RateLimiting,
		},
		hooks: b.hooks,
	}
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
