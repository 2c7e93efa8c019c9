package storage

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
)

// maxDeleteBatch is the S3 DeleteObjects limit: at most 1000 keys per
// request (spec.md §4.6).
const maxDeleteBatch = 1000

// DeleteNamespace is Facade.Delete: single/batched/by-prefix object removal.
type DeleteNamespace struct {
	f *Facade
}

// deleteObjectsRequest/Result mirror the S3 multi-object delete XML wire
// shapes just enough to build a request and check for per-key errors.
type deleteObjectsRequest struct {
	XMLName xml.Name            `xml:"Delete"`
	Quiet   bool                `xml:"Quiet"`
	Objects []deleteObjectEntry `xml:"Object"`
}

type deleteObjectEntry struct {
	Key string `xml:"Key"`
}

type deleteObjectsResult struct {
	XMLName xml.Name `xml:"DeleteResult"`
	Errors  []struct {
		Key     string `xml:"Key"`
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"Error"`
}

// File deletes a single object.
func (d *DeleteNamespace) File(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	f := d.f
	u := f.objectURL(key)
	httpReq, err := http.NewRequest(http.MethodDelete, u.String(), nil)
	if err != nil {
		return err
	}
	f.signRequest(httpReq, u, nil)

	resp, err := f.do(ctx, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return storageErrorFromResponse(resp)
	}
	return nil
}

// Files deletes up to len(keys) objects, automatically chunking into
// batches of maxDeleteBatch (1000) DeleteObjects calls each, per spec.md
// §4.6. Returns the first error encountered, if any; earlier successful
// batches are not rolled back.
func (d *DeleteNamespace) Files(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := d.deleteBatch(ctx, keys[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *DeleteNamespace) deleteBatch(ctx context.Context, keys []string) error {
	f := d.f
	reqBody := deleteObjectsRequest{Quiet: true}
	for _, k := range keys {
		reqBody.Objects = append(reqBody.Objects, deleteObjectEntry{Key: k})
	}
	body, err := xml.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("storage: encode DeleteObjects request: %w", err)
	}

	u := f.objectURL("")
	q := u.Query()
	q.Set("delete", "")
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/xml")
	f.signRequest(httpReq, u, body)
	httpReq.ContentLength = int64(len(body))

	resp, err := f.do(ctx, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return storageErrorFromResponse(resp)
	}

	var parsed deleteObjectsResult
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err == nil && len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		return &Error{Status: http.StatusOK, Code: first.Code, Message: fmt.Sprintf("%s: %s", first.Key, first.Message)}
	}
	return nil
}

// ByPrefixOptions configures ByPrefix.
type ByPrefixOptions struct {
	DryRun   bool
	MaxFiles int // 0 means unbounded
}

// ByPrefixResult reports what ByPrefix did (or would do, for a dry run).
type ByPrefixResult struct {
	Keys    []string
	Deleted bool
}

// ByPrefix lists every object under prefix and deletes them in batches,
// honoring opts.MaxFiles as a safety cap and opts.DryRun to preview without
// deleting (spec.md §4.6).
func (d *DeleteNamespace) ByPrefix(ctx context.Context, prefix string, opts ByPrefixOptions) (ByPrefixResult, error) {
	var keys []string
	err := d.f.List.All(ctx, prefix, func(fi FileInfo) bool {
		keys = append(keys, fi.Key)
		return opts.MaxFiles <= 0 || len(keys) < opts.MaxFiles
	})
	if err != nil {
		return ByPrefixResult{}, err
	}
	if opts.MaxFiles > 0 && len(keys) > opts.MaxFiles {
		keys = keys[:opts.MaxFiles]
	}

	if opts.DryRun {
		return ByPrefixResult{Keys: keys, Deleted: false}, nil
	}
	if err := d.Files(ctx, keys); err != nil {
		return ByPrefixResult{Keys: keys, Deleted: false}, err
	}
	return ByPrefixResult{Keys: keys, Deleted: true}, nil
}
