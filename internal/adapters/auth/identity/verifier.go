package identity

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"clinical-coding/internal/ports/auth"
)

var (
	ErrTokenEmpty    = errors.New("token is empty")
	ErrMissingUserID = errors.New("identity claims missing user id")
)

// Roles que la API entiende; el IdP puede mandar otros (se descartan).
var knownRoles = map[string]string{
	strings.ToLower(auth.RoleCoder):    auth.RoleCoder,
	strings.ToLower(auth.RoleReviewer): auth.RoleReviewer,
}

type VerifierOptions struct {
	// CacheTTL > 0 guarda claims verificados por hash del token.
	CacheTTL time.Duration
	// MaxCached limita las entradas; al llenarse se vacía la cache.
	MaxCached int
}

// Verifier implementa auth.AuthVerifier contra el IdP y deja los roles en
// su forma canónica (Coder, Reviewer).
type Verifier struct {
	client *Client
	opts   VerifierOptions
	now    func() time.Time

	mu    sync.Mutex
	cache map[[sha256.Size]byte]cachedClaims
}

type cachedClaims struct {
	claims  auth.Claims
	expires time.Time
}

func NewVerifier(client *Client, opts VerifierOptions) *Verifier {
	if opts.MaxCached <= 0 {
		opts.MaxCached = 1024
	}
	return &Verifier{
		client: client,
		opts:   opts,
		now:    time.Now,
		cache:  map[[sha256.Size]byte]cachedClaims{},
	}
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if v == nil || v.client == nil {
		return auth.Claims{}, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrTokenEmpty
	}

	key := sha256.Sum256([]byte(token))
	if c, ok := v.cached(key); ok {
		return c, nil
	}

	claims, err := v.client.VerifyToken(ctx, token)
	if err != nil {
		// el middleware sigue sin claims; el handler decide 401/403
		return auth.Claims{}, fmt.Errorf("identity verify failed: %w", err)
	}
	if claims.UserID == "" {
		return auth.Claims{}, ErrMissingUserID
	}
	claims.Roles = canonicalRoles(claims.Roles)

	v.store(key, claims)
	return claims, nil
}

func (v *Verifier) cached(key [sha256.Size]byte) (auth.Claims, bool) {
	if v.opts.CacheTTL <= 0 {
		return auth.Claims{}, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.cache[key]
	if !ok {
		return auth.Claims{}, false
	}
	if !v.now().Before(c.expires) {
		delete(v.cache, key)
		return auth.Claims{}, false
	}
	return c.claims, true
}

func (v *Verifier) store(key [sha256.Size]byte, claims auth.Claims) {
	if v.opts.CacheTTL <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.cache) >= v.opts.MaxCached {
		v.cache = map[[sha256.Size]byte]cachedClaims{}
	}
	v.cache[key] = cachedClaims{claims: claims, expires: v.now().Add(v.opts.CacheTTL)}
}

// canonicalRoles mapea sin distinguir mayúsculas, descarta desconocidos y
// duplicados, y conserva el orden de llegada.
func canonicalRoles(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, r := range in {
		role, ok := knownRoles[strings.ToLower(strings.TrimSpace(r))]
		if !ok || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}
