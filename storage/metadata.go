package storage

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// MetadataNamespace is Facade.Metadata: HEAD-based existence/info checks.
type MetadataNamespace struct {
	f *Facade
}

// Info is the result of GetInfo: an object's metadata without its body.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// GetInfo HEADs key and returns its metadata. Returns a *Error with
// Status=404 if the object does not exist.
func (m *MetadataNamespace) GetInfo(ctx context.Context, key string) (Info, error) {
	if err := checkKey(key); err != nil {
		return Info{}, err
	}
	f := m.f
	u := f.objectURL(key)
	httpReq, err := http.NewRequest(http.MethodHead, u.String(), nil)
	if err != nil {
		return Info{}, err
	}
	f.signRequest(httpReq, u, nil)

	resp, err := f.do(ctx, httpReq)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Info{}, storageErrorFromResponse(resp)
	}

	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	lastMod, _ := time.Parse(http.TimeFormat, resp.Header.Get("Last-Modified"))
	return Info{
		Key:          key,
		Size:         size,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: lastMod,
	}, nil
}

// Exists reports whether key exists, treating any non-404 error as "exists
// unknown, but not confidently absent" — callers that need to distinguish
// network failure from absence should call GetInfo directly.
func (m *MetadataNamespace) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.GetInfo(ctx, key)
	if err == nil {
		return true, nil
	}
	if se, ok := err.(*Error); ok && se.Status == http.StatusNotFound {
		return false, nil
	}
	return false, err
}
