package storage

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ListNamespace is Facade.List: paginated object listing plus the thin
// sort/filter helpers spec.md §4.6 requires (ByExtension/BySize/ByDate).
type ListNamespace struct {
	f *Facade
}

// FileInfo describes one object returned by Files.
type FileInfo struct {
	Key          string
	URL          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// ListOptions parameterizes Files. MaxResults defaults to 1000 (the S3
// ListObjectsV2 page size) when <= 0.
type ListOptions struct {
	Prefix            string
	MaxResults        int
	ContinuationToken string
	SortBy            SortField
}

// SortField selects the client-side ordering Files applies to one page of
// results — S3 itself always returns lexicographic key order; spec.md §4.6
// only requires the ergonomic sort helpers, not a different wire request.
type SortField int

const (
	SortByKey SortField = iota
	SortBySize
	SortByDate
)

// Page is one page of Files results.
type Page struct {
	Files     []FileInfo
	NextToken string
}

type listBucketResult struct {
	XMLName  xml.Name `xml:"ListBucketResult"`
	Contents []struct {
		Key          string `xml:"Key"`
		Size         int64  `xml:"Size"`
		LastModified string `xml:"LastModified"`
		ETag         string `xml:"ETag"`
	} `xml:"Contents"`
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
}

// Files lists objects under opts.Prefix, one page at a time. Use the
// returned NextToken as opts.ContinuationToken to fetch the next page; an
// empty NextToken means this was the last page.
func (l *ListNamespace) Files(ctx context.Context, opts ListOptions) (Page, error) {
	f := l.f
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 1000
	}

	base := fmt.Sprintf("%s/%s", f.cfg.Endpoint, f.cfg.Bucket)
	if !f.cfg.ForcePathStyle {
		// Virtual-hosted style: the bucket is already in the endpoint's host.
		base = f.cfg.Endpoint + "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return Page{}, fmt.Errorf("storage: bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("list-type", "2")
	q.Set("max-keys", strconv.Itoa(maxResults))
	if opts.Prefix != "" {
		q.Set("prefix", opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		q.Set("continuation-token", opts.ContinuationToken)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("storage: build request: %w", err)
	}
	f.signRequest(httpReq, u, nil)

	resp, err := f.do(ctx, httpReq)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, storageErrorFromResponse(resp)
	}

	var parsed listBucketResult
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Page{}, fmt.Errorf("storage: decode ListObjectsV2 response: %w", err)
	}

	page := Page{Files: make([]FileInfo, 0, len(parsed.Contents))}
	for _, c := range parsed.Contents {
		lastMod, _ := time.Parse(time.RFC3339, c.LastModified)
		page.Files = append(page.Files, FileInfo{
			Key:          c.Key,
			URL:          f.PublicURL(c.Key),
			Size:         c.Size,
			LastModified: lastMod,
			ETag:         strings.Trim(c.ETag, `"`),
		})
	}
	if parsed.IsTruncated {
		page.NextToken = parsed.NextContinuationToken
	}
	sortFiles(page.Files, opts.SortBy)
	return page, nil
}

// All drains every page under prefix, calling yield for each file in order.
// yield returning false stops iteration early. This is the async-iterator
// equivalent spec.md §4.6 describes for exhaustive listing.
func (l *ListNamespace) All(ctx context.Context, prefix string, yield func(FileInfo) bool) error {
	token := ""
	for {
		page, err := l.Files(ctx, ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return err
		}
		for _, file := range page.Files {
			if !yield(file) {
				return nil
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

// ByExtension lists files under prefix whose key ends in "."+ext
// (case-insensitive) — a thin filter over Files, per spec.md §4.6.
func (l *ListNamespace) ByExtension(ctx context.Context, ext, prefix string) ([]FileInfo, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var out []FileInfo
	err := l.All(ctx, prefix, func(fi FileInfo) bool {
		if strings.HasSuffix(strings.ToLower(fi.Key), "."+ext) {
			out = append(out, fi)
		}
		return true
	})
	return out, err
}

// BySize lists files with size in [min, max]. max <= 0 means unbounded.
func (l *ListNamespace) BySize(ctx context.Context, prefix string, min, max int64) ([]FileInfo, error) {
	var out []FileInfo
	err := l.All(ctx, prefix, func(fi FileInfo) bool {
		if fi.Size >= min && (max <= 0 || fi.Size <= max) {
			out = append(out, fi)
		}
		return true
	})
	return out, err
}

// ByDate lists files with LastModified in [from, to]. A zero to means
// unbounded on the upper end.
func (l *ListNamespace) ByDate(ctx context.Context, prefix string, from, to time.Time) ([]FileInfo, error) {
	var out []FileInfo
	err := l.All(ctx, prefix, func(fi FileInfo) bool {
		if fi.LastModified.Before(from) {
			return true
		}
		if !to.IsZero() && fi.LastModified.After(to) {
			return true
		}
		out = append(out, fi)
		return true
	})
	return out, err
}

func sortFiles(files []FileInfo, by SortField) {
	switch by {
	case SortBySize:
		insertionSortFiles(files, func(a, b FileInfo) bool { return a.Size < b.Size })
	case SortByDate:
		insertionSortFiles(files, func(a, b FileInfo) bool { return a.LastModified.Before(b.LastModified) })
	default:
		// SortByKey: S3 already returns lexicographic key order.
	}
}

// insertionSortFiles avoids pulling in sort.Slice's reflection-based
// comparator for what is, in practice, a page of at most 1000 items.
func insertionSortFiles(files []FileInfo, less func(a, b FileInfo) bool) {
	for i := 1; i < len(files); i++ {
		for j := i; j > 0 && less(files[j], files[j-1]); j-- {
			files[j], files[j-1] = files[j-1], files[j]
		}
	}
}
