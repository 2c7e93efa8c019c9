package provider

import (
	"crypto/sha256"
	"encoding/base32"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// DeriveScopedCredentials derives a distinct access-key/secret-key pair from
// a single master secret, keyed by label (typically a route name or tenant
// id), so a host can hand a visibly different credential to each upload
// route without provisioning a separate IAM identity per route.
//
// The derived pair is a local HKDF expansion, not a credential registered
// with any real storage account: it will not authenticate against AWS S3,
// R2, or any other provider that only recognizes statically provisioned IAM
// keys. It only signs requests that validate if the storage backend itself
// derives and checks the same per-label sub-credential — RouteBuilder's
// ScopedCredentials wires this in for backends built that way. Against a
// conventional provider, leave the route's credential label unset and sign
// with the shared provider credentials instead.
//
// DeriveScopedCredentials is deterministic: the same master and label always
// produce the same derived pair.
func DeriveScopedCredentials(master Credentials, label string) Credentials {
	h := hkdf.New(sha256.New, []byte(master.SecretAccessKey), []byte(master.AccessKeyID), []byte("pushduck-scoped-credential:"+label))

	secret := make([]byte, 32)
	if _, err := io.ReadFull(h, secret); err != nil {
		// hkdf only fails when the requested length exceeds its output limit
		// (255*32 bytes here); 32 bytes is always within range.
		panic("provider: hkdf expand failed: " + err.Error())
	}

	accessKeyID := "PDSK" + strings.ToUpper(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret[:10]))
	return Credentials{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret),
	}
}
