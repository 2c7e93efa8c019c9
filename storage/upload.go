package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/abhay-ramesh/pushduck/signer"
)

// UploadNamespace is Facade.Upload: direct server-side PUTs, primarily for
// backend-generated artifacts rather than the normal client-presigned path
// (spec.md §4.6).
type UploadNamespace struct {
	f *Facade
}

// Options carries optional per-call settings for File/FromPath/FromReader.
type Options struct {
	ContentType string
	ACL         string
	Metadata    map[string]string
}

// File uploads data to key under the façade's bucket with a direct,
// server-signed PUT.
func (u *UploadNamespace) File(ctx context.Context, key string, data []byte, opts Options) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}

	f := u.f
	objURL := f.objectURL(key)
	req := &signer.Request{Method: http.MethodPut, URL: objURL, Body: data, Headers: http.Header{}}
	req.Headers.Set("Content-Type", opts.ContentType)
	if opts.ACL != "" {
		req.Headers.Set("x-amz-acl", opts.ACL)
	}
	for k, v := range opts.Metadata {
		req.Headers.Set("x-amz-meta-"+k, v)
	}

	signed := signer.Sign(req, f.signOpts(time.Time{}))

	httpReq, err := http.NewRequest(http.MethodPut, objURL.String(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("storage: build request: %w", err)
	}
	httpReq.Header = signed
	httpReq.ContentLength = int64(len(data))

	resp, err := f.do(ctx, httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", storageErrorFromResponse(resp)
	}
	return f.PublicURL(key), nil
}

// FromPath reads a local file and uploads it to key, inferring content type
// from the file extension when opts.ContentType is empty.
func (u *UploadNamespace) FromPath(ctx context.Context, key, localPath string, opts Options) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("storage: read %s: %w", localPath, err)
	}
	if opts.ContentType == "" {
		opts.ContentType = mimeForPath(localPath)
	}
	return u.File(ctx, key, data, opts)
}

// FromReader drains r and uploads the bytes to key.
func (u *UploadNamespace) FromReader(ctx context.Context, key string, r io.Reader, opts Options) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("storage: read reader for %s: %w", key, err)
	}
	return u.File(ctx, key, data, opts)
}
