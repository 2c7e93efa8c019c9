// Package signer implements AWS Signature Version 4 request signing against
// any S3-compatible endpoint. It has no dependency on a specific provider —
// callers supply region, service, and credentials explicitly.
//
// Two signing modes are supported: header signing (Sign), used for
// server-side requests where the caller already holds the body, and
// query-string presigning (Presign), used to hand a time-limited URL to a
// client that will PUT or GET bytes directly against storage.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// UnsignedPayload is used as the payload hash for presigned PUT URLs, per
// SigV4: the client streams bytes the server never sees, so there is
// nothing to hash ahead of time.
const UnsignedPayload = "UNSIGNED-PAYLOAD"

// Credentials holds the access key, secret key, and optional session token
// used to sign a request.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Request is the subset of an HTTP request needed to produce a SigV4
// signature. Method and URL are required; Headers and Body are optional.
type Request struct {
	Method  string
	URL     *url.URL
	Headers http.Header
	Body    []byte
}

// Options parameterizes a signing operation.
type Options struct {
	Service     string // e.g. "s3"
	Region      string // e.g. "us-east-1", or "auto" for Cloudflare R2
	Credentials Credentials
	Now         time.Time // for deterministic tests; zero value means time.Now()
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now().UTC()
	}
	return o.Now.UTC()
}

// Sign adds Authorization, X-Amz-Date, and X-Amz-Content-Sha256 headers to
// req, signing it for a direct (header-based) request such as a
// server-side PUT performed by the Storage Façade.
//
// Sign never fails on valid inputs: an invalid-credentials error can only be
// observed later, when the storage endpoint responds 401/403 (spec.md §4.1).
func Sign(req *Request, opts Options) http.Header {
	now := opts.now()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	headers := cloneHeader(req.Headers)
	headers.Set("Host", req.URL.Host)
	headers.Set("X-Amz-Date", amzDate)
	payloadHash := hexSHA256(req.Body)
	headers.Set("X-Amz-Content-Sha256", payloadHash)
	if opts.Credentials.SessionToken != "" {
		headers.Set("X-Amz-Security-Token", opts.Credentials.SessionToken)
	}

	signedHeaders, canonicalHeaders := canonicalizeHeaders(headers)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL.Path),
		canonicalQuery(req.URL.Query()),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := strings.Join([]string{dateStamp, opts.Region, opts.Service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(opts.Credentials.SecretAccessKey, dateStamp, opts.Region, opts.Service)
	signature := hexHMAC(signingKey, []byte(stringToSign))

	authorization := "AWS4-HMAC-SHA256 " +
		"Credential=" + opts.Credentials.AccessKeyID + "/" + credentialScope +
		",SignedHeaders=" + signedHeaders +
		",Signature=" + signature
	headers.Set("Authorization", authorization)

	return headers
}

// Presign returns a copy of req.URL with SigV4 query-string authentication
// parameters added, valid for expires from opts.Now (or time.Now() if
// unset). This is the form used for presigned PUT/GET URLs handed to
// clients. A non-positive expires defaults to one hour; values above
// 604800s (the AWS 7-day maximum) are clamped to it.
func Presign(req *Request, opts Options, expires time.Duration) *url.URL {
	if expires <= 0 {
		expires = time.Hour
	}
	if expires > 7*24*time.Hour {
		expires = 7 * 24 * time.Hour
	}

	now := opts.now()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	credentialScope := strings.Join([]string{dateStamp, opts.Region, opts.Service, "aws4_request"}, "/")

	q := cloneQuery(req.URL.Query())
	q.Set("X-Amz-Algorithm", "AWS4-HMAC-SHA256")
	q.Set("X-Amz-Credential", opts.Credentials.AccessKeyID+"/"+credentialScope)
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", strconv.Itoa(int(expires.Seconds())))

	headers := cloneHeader(req.Headers)
	headers.Set("Host", req.URL.Host)
	signedHeaders, canonicalHeaders := canonicalizeHeaders(headers)
	q.Set("X-Amz-SignedHeaders", signedHeaders)
	if opts.Credentials.SessionToken != "" {
		q.Set("X-Amz-Security-Token", opts.Credentials.SessionToken)
	}

	payloadHash := UnsignedPayload
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL.Path),
		canonicalQuery(q),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(opts.Credentials.SecretAccessKey, dateStamp, opts.Region, opts.Service)
	signature := hexHMAC(signingKey, []byte(stringToSign))
	q.Set("X-Amz-Signature", signature)

	out := *req.URL
	out.RawQuery = q.Encode()
	return &out
}

// ── canonicalization helpers ────────────────────────────────────────────────

// canonicalURI URI-encodes every path segment once (every byte except the
// RFC 3986 unreserved characters), leaving the separating "/" alone. Most AWS services require the canonical URI to be encoded
// twice, but S3 (and every S3-compatible endpoint this package targets) is
// the documented exception: its signer encodes the path exactly once. See
// DESIGN.md's Open Question on this for why pushduck follows S3's real
// behavior here rather than the general SigV4 rule.
func canonicalURI(p string) string {
	if p == "" {
		return "/"
	}
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = sigEscape(seg)
	}
	return strings.Join(segments, "/")
}

// canonicalQuery sorts query keys lexicographically, and for repeated keys
// sorts by value too, URI-encoding both keys and values per SigV4.
func canonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		values := append([]string(nil), q[k]...)
		sort.Strings(values)
		for _, v := range values {
			pairs = append(pairs, sigEscape(k)+"="+sigEscape(v))
		}
	}
	return strings.Join(pairs, "&")
}

// sigEscape is RFC 3986 percent-encoding matching AWS's canonical query
// escaping (url.QueryEscape encodes space as "+", which SigV4 forbids).
func sigEscape(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	return escaped
}

func canonicalizeHeaders(h http.Header) (signedHeaders, canonicalHeaders string) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		values := h.Values(http.CanonicalHeaderKey(name))
		joined := make([]string, len(values))
		for i, v := range values {
			joined[i] = strings.TrimSpace(v)
		}
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(strings.Join(joined, ","))
		sb.WriteByte('\n')
	}
	return strings.Join(names, ";"), sb.String()
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// ── HMAC chain ───────────────────────────────────────────────────────────────

func hexSHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexHMAC(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func rawHMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// deriveSigningKey produces the SigV4 signing key for a date/region/service
// triple via the standard HMAC chain: date → region → service → "aws4_request".
func deriveSigningKey(secret, date, region, service string) []byte {
	kDate := rawHMAC([]byte("AWS4"+secret), []byte(date))
	kRegion := rawHMAC(kDate, []byte(region))
	kService := rawHMAC(kRegion, []byte(service))
	return rawHMAC(kService, []byte("aws4_request"))
}
