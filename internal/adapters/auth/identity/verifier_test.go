package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"clinical-coding/internal/ports/auth"
)

func newIdP(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != verifyPath || r.Header.Get("X-Api-Key") != "secret" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var in struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		switch in.Token {
		case "reviewer":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"user_id": " rev-1 ",
				"email":   "rev@trust.nhs.uk",
				"roles":   []string{"reviewer", " ", "Admin", "REVIEWER"},
			})
		case "anonymous":
			_ = json.NewEncoder(w).Encode(map[string]any{"user_id": ""})
		case "down":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}))
}

func TestVerifier_Verify(t *testing.T) {
	srv := newIdP(t)
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	v := NewVerifier(client, VerifierOptions{})

	claims, err := v.Verify(context.Background(), "reviewer")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "rev-1" || !claims.HasRole(auth.RoleReviewer) || claims.HasRole(auth.RoleCoder) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != auth.RoleReviewer {
		t.Fatalf("expected roles canonicalized to [Reviewer], got %v", claims.Roles)
	}

	if _, err := v.Verify(context.Background(), "expired"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := v.Verify(context.Background(), "down"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if _, err := v.Verify(context.Background(), "anonymous"); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
	if _, err := v.Verify(context.Background(), "  "); !errors.Is(err, ErrTokenEmpty) {
		t.Fatalf("expected ErrTokenEmpty, got %v", err)
	}
}

func TestNewClient_RequiresConfig(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "http://idp"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := (*Verifier)(nil).Verify(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for nil verifier, got %v", err)
	}
}

func TestVerifier_CachesVerifiedTokens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"user_id": "coder-1", "roles": []string{"coder"}})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	v := NewVerifier(client, VerifierOptions{CacheTTL: time.Minute})
	now := time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		claims, err := v.Verify(context.Background(), "tok")
		if err != nil {
			t.Fatalf("verify #%d: %v", i, err)
		}
		if !claims.HasRole(auth.RoleCoder) {
			t.Fatalf("expected Coder role, got %v", claims.Roles)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one IdP call while cached, got %d", calls.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := v.Verify(context.Background(), "tok"); err != nil {
		t.Fatalf("verify after expiry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a fresh IdP call after expiry, got %d", calls.Load())
	}
}

func TestVerifier_DoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	v := NewVerifier(client, VerifierOptions{CacheTTL: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("failures must not be cached, got %d calls", calls.Load())
	}
}
