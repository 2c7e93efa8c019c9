package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abhay-ramesh/pushduck"
)

const testSecret = "unit-test-secret-do-not-use-in-prod"

func TestRequireBearerAcceptsValidToken(t *testing.T) {
	tok, err := IssueToken(testSecret, "user-1", []string{"upload:write"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	mw := RequireBearer(testSecret, "upload:write")
	meta, err := mw(req.Context(), pushduck.MiddlewareContext{Request: req})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta["sub"] != "user-1" {
		t.Errorf("sub = %v, want user-1", meta["sub"])
	}
}

func TestRequireBearerRejectsMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	mw := RequireBearer(testSecret, "")
	if _, err := mw(req.Context(), pushduck.MiddlewareContext{Request: req}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestRequireBearerRejectsWrongScope(t *testing.T) {
	tok, err := IssueToken(testSecret, "user-1", []string{"upload:read"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	mw := RequireBearer(testSecret, "upload:write")
	if _, err := mw(req.Context(), pushduck.MiddlewareContext{Request: req}); err == nil {
		t.Fatal("expected scope error")
	}
}

func TestRequireBearerRejectsExpiredToken(t *testing.T) {
	tok, err := IssueToken(testSecret, "user-1", nil, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	mw := RequireBearer(testSecret, "")
	if _, err := mw(req.Context(), pushduck.MiddlewareContext{Request: req}); err == nil {
		t.Fatal("expected expiry error")
	}
}
