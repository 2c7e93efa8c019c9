// Package provider resolves a provider descriptor (aws, cloudflareR2,
// digitalOceanSpaces, minio, gcs, or a fully custom endpoint) plus any
// explicit overrides and environment variables into a canonical, immutable
// Config ready to hand to signer and storage.
//
// Resolution never contacts the network and never fails lazily: a missing
// required field (bucket, credentials, or endpoint for Kind=Custom) fails
// at Resolve time with an *InvalidConfigError, matching spec.md §4.2's
// "fail at config build time, never at request time" requirement.
package provider

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/abhay-ramesh/pushduck/internal/validate"
)

// Kind identifies which S3-compatible provider a Config targets.
type Kind string

const (
	AWS                Kind = "aws"
	CloudflareR2       Kind = "r2"
	DigitalOceanSpaces Kind = "spaces"
	MinIO              Kind = "minio"
	GCS                Kind = "gcs"
	Custom             Kind = "custom"
)

// Credentials holds the access key pair (and optional session token) used
// to sign requests against the resolved provider.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Config is the canonical, immutable resolved provider description.
// Once returned by Resolve, nothing in this package mutates it.
type Config struct {
	Kind           Kind
	Endpoint       string // absolute URL, no trailing slash
	Region         string // "auto" allowed for R2
	Bucket         string
	Credentials    Credentials
	ForcePathStyle bool
	PublicURLBase  string // optional; when set, used instead of endpoint/bucket for public URLs
	UseSSL         bool
}

// InvalidConfigError reports a missing or invalid required field at
// Resolve time.
type InvalidConfigError struct {
	Field   string
	Message string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid provider configuration: %s: %s", e.Field, e.Message)
}

// Overrides carries caller-supplied values that take precedence over
// environment variables during resolution. Zero values mean "not
// overridden — fall back to the environment or provider defaults".
type Overrides struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKeyID    string
	SecretAccessKey string
	SessionToken   string
	ForcePathStyle *bool
	PublicURLBase  string
	UseSSL         *bool
	AccountID      string // Cloudflare R2 account id, used to build the default endpoint
}

// Env abstracts environment-variable lookup so Resolve is testable without
// mutating the process environment. OSEnv implements it against os.Getenv.
type Env interface {
	Lookup(key string) (string, bool)
}

// OSEnv reads from the real process environment via os.LookupEnv.
type OSEnv struct{}

func (OSEnv) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// firstEnv returns the value of the first set, non-empty variable among
// names, honoring the provider env-var precedence lists in spec.md §6.
func firstEnv(env Env, names ...string) string {
	for _, name := range names {
		if v, ok := env.Lookup(name); ok && v != "" {
			return v
		}
	}
	return ""
}

// Resolve builds a canonical Config for kind, preferring overrides, then
// environment variables (per spec.md §6's precedence lists), then
// provider-specific defaults.
func Resolve(kind Kind, overrides Overrides, env Env) (*Config, error) {
	if env == nil {
		env = OSEnv{}
	}

	switch kind {
	case AWS:
		return resolveAWS(overrides, env)
	case CloudflareR2:
		return resolveR2(overrides, env)
	case DigitalOceanSpaces:
		return resolveSpaces(overrides, env)
	case MinIO:
		return resolveMinIO(overrides, env)
	case GCS:
		return resolveGCS(overrides, env)
	case Custom:
		return resolveCustom(overrides, env)
	default:
		return nil, &InvalidConfigError{Field: "kind", Message: fmt.Sprintf("unknown provider kind %q", kind)}
	}
}

func resolveAWS(o Overrides, env Env) (*Config, error) {
	region := pick(o.Region, firstEnv(env, "AWS_REGION", "S3_REGION"))
	if region == "" {
		region = "us-east-1"
	}
	bucket := pick(o.Bucket, firstEnv(env, "AWS_S3_BUCKET", "S3_BUCKET"))
	accessKey := pick(o.AccessKeyID, firstEnv(env, "AWS_ACCESS_KEY_ID"))
	secretKey := pick(o.SecretAccessKey, firstEnv(env, "AWS_SECRET_ACCESS_KEY"))
	sessionToken := pick(o.SessionToken, firstEnv(env, "AWS_SESSION_TOKEN"))

	if err := requireAll(map[string]string{
		"bucket":            bucket,
		"accessKeyId":       accessKey,
		"secretAccessKey":   secretKey,
	}); err != nil {
		return nil, err
	}

	endpoint := pick(o.Endpoint, fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region))
	cfg := &Config{
		Kind:     AWS,
		Endpoint: endpoint,
		Region:   region,
		Bucket:   bucket,
		Credentials: Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			SessionToken:    sessionToken,
		},
		ForcePathStyle: boolOr(o.ForcePathStyle, false),
		PublicURLBase:  o.PublicURLBase,
		UseSSL:         boolOr(o.UseSSL, true),
	}
	return validateEndpoint(cfg)
}

func resolveR2(o Overrides, env Env) (*Config, error) {
	accountID := pick(o.AccountID, firstEnv(env, "CLOUDFLARE_ACCOUNT_ID", "R2_ACCOUNT_ID"))
	accessKey := pick(o.AccessKeyID, firstEnv(env, "CLOUDFLARE_R2_ACCESS_KEY_ID", "R2_ACCESS_KEY_ID"))
	secretKey := pick(o.SecretAccessKey, firstEnv(env, "CLOUDFLARE_R2_SECRET_ACCESS_KEY", "R2_SECRET_ACCESS_KEY"))
	bucket := pick(o.Bucket, firstEnv(env, "CLOUDFLARE_R2_BUCKET", "R2_BUCKET"))

	endpoint := o.Endpoint
	if endpoint == "" && accountID != "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}

	if err := requireAll(map[string]string{
		"bucket":          bucket,
		"accessKeyId":     accessKey,
		"secretAccessKey": secretKey,
		"endpoint":        endpoint,
	}); err != nil {
		return nil, err
	}

	cfg := &Config{
		Kind:     CloudflareR2,
		Endpoint: endpoint,
		Region:   pick(o.Region, "auto"),
		Bucket:   bucket,
		Credentials: Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			SessionToken:    o.SessionToken,
		},
		ForcePathStyle: boolOr(o.ForcePathStyle, true),
		PublicURLBase:  o.PublicURLBase,
		UseSSL:         boolOr(o.UseSSL, true),
	}
	return validateEndpoint(cfg)
}

func resolveSpaces(o Overrides, env Env) (*Config, error) {
	region := pick(o.Region, firstEnv(env, "DO_SPACES_REGION"))
	if region == "" {
		region = "nyc3"
	}
	bucket := pick(o.Bucket, firstEnv(env, "DO_SPACES_BUCKET"))
	accessKey := pick(o.AccessKeyID, firstEnv(env, "DO_SPACES_ACCESS_KEY_ID"))
	secretKey := pick(o.SecretAccessKey, firstEnv(env, "DO_SPACES_SECRET_ACCESS_KEY"))

	if err := requireAll(map[string]string{
		"bucket":          bucket,
		"accessKeyId":     accessKey,
		"secretAccessKey": secretKey,
	}); err != nil {
		return nil, err
	}

	endpoint := pick(o.Endpoint, fmt.Sprintf("https://%s.%s.digitaloceanspaces.com", bucket, region))
	cfg := &Config{
		Kind:     DigitalOceanSpaces,
		Endpoint: endpoint,
		Region:   region,
		Bucket:   bucket,
		Credentials: Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
		},
		ForcePathStyle: boolOr(o.ForcePathStyle, false),
		PublicURLBase:  o.PublicURLBase,
		UseSSL:         boolOr(o.UseSSL, true),
	}
	return validateEndpoint(cfg)
}

func resolveMinIO(o Overrides, env Env) (*Config, error) {
	endpoint := pick(o.Endpoint, firstEnv(env, "MINIO_ENDPOINT"))
	bucket := pick(o.Bucket, firstEnv(env, "MINIO_BUCKET"))
	accessKey := pick(o.AccessKeyID, firstEnv(env, "MINIO_ACCESS_KEY_ID", "MINIO_ACCESS_KEY"))
	secretKey := pick(o.SecretAccessKey, firstEnv(env, "MINIO_SECRET_ACCESS_KEY", "MINIO_SECRET_KEY"))
	useSSL := strings.EqualFold(firstEnv(env, "MINIO_USE_SSL"), "true")

	if err := requireAll(map[string]string{
		"endpoint":        endpoint,
		"bucket":          bucket,
		"accessKeyId":     accessKey,
		"secretAccessKey": secretKey,
	}); err != nil {
		return nil, err
	}

	cfg := &Config{
		Kind:     MinIO,
		Endpoint: endpoint,
		Region:   pick(o.Region, "us-east-1"),
		Bucket:   bucket,
		Credentials: Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
		},
		ForcePathStyle: boolOr(o.ForcePathStyle, true),
		PublicURLBase:  o.PublicURLBase,
		UseSSL:         boolOr(o.UseSSL, useSSL),
	}
	return validateEndpoint(cfg)
}

func resolveGCS(o Overrides, env Env) (*Config, error) {
	bucket := pick(o.Bucket, firstEnv(env, "GCS_BUCKET"))
	accessKey := pick(o.AccessKeyID, firstEnv(env, "GCS_ACCESS_KEY_ID"))
	secretKey := pick(o.SecretAccessKey, firstEnv(env, "GCS_SECRET_ACCESS_KEY"))

	if err := requireAll(map[string]string{
		"bucket":          bucket,
		"accessKeyId":     accessKey,
		"secretAccessKey": secretKey,
	}); err != nil {
		return nil, err
	}

	cfg := &Config{
		Kind:     GCS,
		Endpoint: pick(o.Endpoint, "https://storage.googleapis.com"),
		Region:   pick(o.Region, "auto"),
		Bucket:   bucket,
		Credentials: Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
		},
		ForcePathStyle: boolOr(o.ForcePathStyle, true),
		PublicURLBase:  o.PublicURLBase,
		UseSSL:         boolOr(o.UseSSL, true),
	}
	return validateEndpoint(cfg)
}

func resolveCustom(o Overrides, env Env) (*Config, error) {
	if err := requireAll(map[string]string{
		"endpoint":        o.Endpoint,
		"bucket":          o.Bucket,
		"accessKeyId":     o.AccessKeyID,
		"secretAccessKey": o.SecretAccessKey,
	}); err != nil {
		return nil, err
	}

	cfg := &Config{
		Kind:     Custom,
		Endpoint: o.Endpoint,
		Region:   pick(o.Region, "us-east-1"),
		Bucket:   o.Bucket,
		Credentials: Credentials{
			AccessKeyID:     o.AccessKeyID,
			SecretAccessKey: o.SecretAccessKey,
			SessionToken:    o.SessionToken,
		},
		ForcePathStyle: boolOr(o.ForcePathStyle, true),
		PublicURLBase:  o.PublicURLBase,
		UseSSL:         boolOr(o.UseSSL, true),
	}
	return validateEndpoint(cfg)
}

func validateEndpoint(cfg *Config) (*Config, error) {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &InvalidConfigError{Field: "endpoint", Message: fmt.Sprintf("%q must be an absolute URL with a scheme", cfg.Endpoint)}
	}
	// The storage endpoint itself is allowed to be a private/loopback
	// address (self-hosted MinIO commonly runs on one); PublicURLBase is
	// handed straight to clients as the object URL, so it gets the full
	// SSRF-style check.
	if cfg.PublicURLBase != "" {
		if err := validate.IsURL("publicURLBase", cfg.PublicURLBase, false); err != nil {
			return nil, &InvalidConfigError{Field: "publicURLBase", Message: err.Error()}
		}
	}
	return cfg, nil
}

func requireAll(fields map[string]string) error {
	for field, v := range fields {
		if v == "" {
			return &InvalidConfigError{Field: field, Message: "is required but was empty"}
		}
	}
	return nil
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func boolOr(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}
