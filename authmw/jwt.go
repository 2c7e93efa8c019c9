// Package authmw is an optional, example host-middleware helper: a
// Route.Middleware function that validates a Bearer JWT and injects its
// claims into upload metadata. The router core has no notion of
// authentication (spec.md §1 lists it as a host concern); this package is
// wiring a host application may choose to plug into RouteBuilder.Middleware,
// not something pushduck calls itself.
package authmw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/abhay-ramesh/pushduck"
)

// Claims is the minimal claim set RequireBearer validates. Embed
// jwt.RegisteredClaims so expiry/issuer checks and the subject come from the
// library, and carry an optional list of scopes that RequireBearer can
// require.
type Claims struct {
	jwt.RegisteredClaims
	Scope []string `json:"scope,omitempty"`
}

// ErrMissingToken is returned (wrapped) when the Authorization header is
// absent or not a Bearer token.
var ErrMissingToken = errors.New("authmw: missing bearer token")

// RequireBearer returns a pushduck.MiddlewareFunc that extracts and
// validates a Bearer JWT from the incoming request, signed with secret
// using an HMAC method (HS256/HS384/HS512). On success it merges {"sub": claims.Subject, "scope":
// claims.Scope} into the route's metadata. On failure it returns an error,
// which the router folds into PresignResult.Error and fires OnUploadError
// for — exactly like any other middleware failure (spec.md §4.4).
//
// requiredScope, if non-empty, additionally requires that value to appear
// in the token's scope claim.
func RequireBearer(secret string, requiredScope string) pushduck.MiddlewareFunc {
	return func(ctx context.Context, mc pushduck.MiddlewareContext) (pushduck.Metadata, error) {
		tok := extractBearer(mc.Request)
		if tok == "" {
			return nil, ErrMissingToken
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("authmw: unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithExpirationRequired())
		if err != nil {
			return nil, fmt.Errorf("authmw: invalid token: %w", err)
		}
		if !parsed.Valid {
			return nil, errors.New("authmw: token failed validation")
		}

		if requiredScope != "" && !hasScope(claims.Scope, requiredScope) {
			return nil, fmt.Errorf("authmw: token missing required scope %q", requiredScope)
		}

		return pushduck.Metadata{
			"sub":   claims.Subject,
			"scope": claims.Scope,
		}, nil
	}
}

// extractBearer pulls the token out of "Authorization: Bearer <token>",
// returning "" if the header is absent or malformed.
func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// IssueToken is a small test/demo helper that signs a token in the same
// shape RequireBearer expects — mirroring the teacher's
// GenerateAccessToken/ValidateAccessToken pairing so a caller can issue
// tokens for local testing without pulling in a separate JWT helper.
func IssueToken(secret, subject string, scope []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "pushduck",
		},
		Scope: scope,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}
