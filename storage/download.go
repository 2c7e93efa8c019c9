package storage

import (
	"net/http"
	"time"

	"github.com/abhay-ramesh/pushduck/signer"
)

// DownloadNamespace is Facade.Download: presigned-GET generation.
type DownloadNamespace struct {
	f *Facade
}

// PresignedURL returns a presigned GET URL for key, valid for expiresIn
// (signer.Presign treats a non-positive value as one hour and clamps it to
// at most 7d, the same rules presigned PUT URLs use in the upload path). Grounded on the teacher's
// internal/cdn.SignURL time-bound query-signature *shape*, but using real
// SigV4 presigning so the URL is accepted by the actual storage endpoint
// rather than only by a private relay.
func (dl *DownloadNamespace) PresignedURL(key string, expiresIn time.Duration) string {
	f := dl.f
	u := f.objectURL(key)
	req := &signer.Request{Method: http.MethodGet, URL: u, Headers: http.Header{}}
	signed := signer.Presign(req, f.signOpts(time.Time{}), expiresIn)
	return signed.String()
}
