// Package storage is the provider-agnostic object storage façade: upload,
// list, delete, metadata (head), and presigned-download operations built on
// top of signer and provider.Config, usable by hosts independently of the
// upload Router (spec.md §4.6). It is the generalized, any-S3-endpoint
// successor to the teacher's hard-coded Cloudflare R2 client
// (internal/r2/client.go, internal/r2/upload.go): same PutObject/UploadFile
// shape and MIME-by-extension fallback, but parameterized over
// provider.Config instead of three R2-specific environment variables, and
// signing through the shared signer package instead of a private inline
// SigV4 implementation.
//
// The four namespaces spec.md §4.6 describes (upload/list/delete/metadata,
// plus download) are modeled as five small structs hanging off Facade,
// mirroring the wire-level grouping instead of one flat method set — this
// avoids name collisions between e.g. list's and delete's both wanting a
// method named "Files" with different signatures.
//
// Orphaned uploads (a presigned URL was handed out but the client never
// sent a completion record, or crashed mid-upload) are not detected by this
// package or by the Router: nothing here polls storage looking for objects
// without a matching completion. A host that wants that guarantee should
// run a periodic sweeper built on List+Metadata: list objects older than a
// retention window and check each still lacks an application-level record
// of completion. This package deliberately has no opinion on that retention
// policy, so it is not implemented as an automatic feature.
package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/abhay-ramesh/pushduck/internal/validate"
	"github.com/abhay-ramesh/pushduck/provider"
	"github.com/abhay-ramesh/pushduck/signer"
)

// Facade is a config-bound storage client offering the Upload/List/Delete/
// Metadata/Download namespaces from spec.md §4.6. Construct with New; it
// holds only a read-only provider.Config and an *http.Client, so it is safe
// to share across goroutines and across requests.
type Facade struct {
	cfg        provider.Config
	httpClient *http.Client

	Upload   *UploadNamespace
	List     *ListNamespace
	Delete   *DeleteNamespace
	Metadata *MetadataNamespace
	Download *DownloadNamespace
}

// New returns a Facade bound to cfg. httpClient may be nil, in which case a
// client with a 30s timeout is used (matching the teacher's r2.Client
// default).
func New(cfg provider.Config, httpClient *http.Client) *Facade {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	f := &Facade{cfg: cfg, httpClient: httpClient}
	f.Upload = &UploadNamespace{f: f}
	f.List = &ListNamespace{f: f}
	f.Delete = &DeleteNamespace{f: f}
	f.Metadata = &MetadataNamespace{f: f}
	f.Download = &DownloadNamespace{f: f}
	return f
}

// Error is the typed error storage operations return on a non-2xx response
// from the storage endpoint, carrying enough detail for a caller to decide
// whether to retry (spec.md §7 "StorageError").
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s (status %d): %s", e.Code, e.Status, e.Message)
}

// IsRetryable reports whether the failure is plausibly transient (5xx or
// 429), matching spec.md §7's recommended backoff policy.
func (e *Error) IsRetryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// checkKey guards the namespaces that accept a caller-supplied literal key
// (as opposed to a prefix) against path traversal, since this package is
// usable independently of Router's own key sanitizer (spec.md §4.6).
func checkKey(key string) error {
	if err := validate.NoPathTraversal("key", key); err != nil {
		return &Error{Status: 400, Code: "InvalidKey", Message: err.Error()}
	}
	return nil
}

// objectURL builds the endpoint URL for key, branching on ForcePathStyle:
// path-style providers (R2, MinIO, GCS interop, and Custom by default)
// address objects as endpoint/bucket/key; virtual-hosted-style providers
// (AWS S3 and Spaces by default) already carry the bucket in the endpoint's
// host, so the bucket segment must not be repeated.
func (f *Facade) objectURL(key string) *url.URL {
	var raw string
	if f.cfg.ForcePathStyle {
		raw = fmt.Sprintf("%s/%s/%s", f.cfg.Endpoint, f.cfg.Bucket, key)
	} else {
		raw = fmt.Sprintf("%s/%s", f.cfg.Endpoint, key)
	}
	u, _ := url.Parse(raw)
	return u
}

// PublicURL returns the URL a client can use to fetch key without
// presigning: cfg.PublicURLBase if set, else objectURL's endpoint URL
// (path-style or virtual-hosted per ForcePathStyle), matching spec.md
// §4.5's publicUrlFor.
func (f *Facade) PublicURL(key string) string {
	if f.cfg.PublicURLBase != "" {
		return strings.TrimRight(f.cfg.PublicURLBase, "/") + "/" + key
	}
	return f.objectURL(key).String()
}

func (f *Facade) signOpts(now time.Time) signer.Options {
	return signer.Options{
		Service: "s3",
		Region:  f.cfg.Region,
		Credentials: signer.Credentials{
			AccessKeyID:     f.cfg.Credentials.AccessKeyID,
			SecretAccessKey: f.cfg.Credentials.SecretAccessKey,
			SessionToken:    f.cfg.Credentials.SessionToken,
		},
		Now: now,
	}
}

// signRequest signs httpReq in place (header-based SigV4) for a request
// whose body is exactly body (nil for GET/HEAD/DELETE). Shared by every
// namespace, which only ever issue header-signed requests against the
// bucket endpoint.
func (f *Facade) signRequest(httpReq *http.Request, u *url.URL, body []byte) {
	req := &signer.Request{Method: httpReq.Method, URL: u, Body: body, Headers: http.Header{}}
	for k := range httpReq.Header {
		req.Headers.Set(k, httpReq.Header.Get(k))
	}
	httpReq.Header = signer.Sign(req, f.signOpts(time.Time{}))
}

func (f *Facade) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := f.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("storage: request failed: %w", err)
	}
	return resp, nil
}

func storageErrorFromResponse(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &Error{Status: resp.StatusCode, Code: "StorageError", Message: string(body)}
}

// mimeForPath returns the MIME content type for a file path based on its
// extension, falling back to the stdlib mime table and finally to
// application/octet-stream — the same fallback chain as the teacher's
// r2.mimeForPath.
func mimeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "application/octet-stream"
	}
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
