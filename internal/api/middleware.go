/**
 * @description
 * This file contains the custom middleware for the HTTP router. Two guards
 * protect the engine's surfaces: a JWT middleware (JWKS-backed RSA validation)
 * for the freelancer dashboard routes, and a shared-secret bearer check for
 * the internal cron trigger endpoints.
 *
 * @dependencies
 * - context, crypto/rsa, net/http, sync: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 * - github.com/google/uuid: Freelancer ids are UUIDs.
 */

package api

import (
	"context"
	"crypto/hmac"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// FreelancerIDContextKey is a custom type for the context key to avoid collisions.
type FreelancerIDContextKey string

const freelancerIDKey FreelancerIDContextKey = "freelancerID"

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or "" when the header is missing or malformed.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return ""
	}
	return strings.TrimSpace(token)
}

// CronAuthMiddleware guards the internal cron trigger endpoints with a shared
// bearer secret. An empty configured secret fails closed.
func CronAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(secret) == "" {
				http.Error(w, "Cron trigger endpoints are not configured", http.StatusUnauthorized)
				return
			}
			token := bearerToken(r)
			if token == "" || !hmac.Equal([]byte(token), []byte(secret)) {
				http.Error(w, "Invalid cron auth token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware creates a middleware that validates freelancer JWTs against
// the identity provider's JWKS endpoint.
func AuthMiddleware(jwksURL, issuer, audience string) func(http.Handler) http.Handler {
	keys := newJWKSCache(jwksURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}
				publicKey, err := keys.publicKey(kid)
				if err != nil {
					return nil, fmt.Errorf("failed to get public key: %w", err)
				}
				return publicKey, nil
			})
			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}
			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			if audience != "" {
				if aud, ok := claims["aud"].(string); !ok || aud != audience {
					http.Error(w, "Invalid audience", http.StatusUnauthorized)
					return
				}
			}
			if issuer != "" {
				if iss, ok := claims["iss"].(string); !ok || iss != issuer {
					http.Error(w, "Invalid issuer", http.StatusUnauthorized)
					return
				}
			}

			sub, ok := claims["sub"].(string)
			if !ok {
				http.Error(w, "Freelancer ID not found in token", http.StatusUnauthorized)
				return
			}
			freelancerID, err := uuid.Parse(sub)
			if err != nil {
				http.Error(w, "Invalid freelancer ID in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), freelancerIDKey, freelancerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetFreelancerID retrieves the authenticated freelancer's ID from the
// request context. Handlers should use this instead of reading claims.
func GetFreelancerID(ctx context.Context) (uuid.UUID, bool) {
	freelancerID, ok := ctx.Value(freelancerIDKey).(uuid.UUID)
	return freelancerID, ok
}

// jwksCache holds the provider's RSA keys keyed by kid, refetching when an
// unknown kid shows up. The refetch is rate limited so a flood of bad tokens
// cannot hammer the JWKS endpoint.
type jwksCache struct {
	url string

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newJWKSCache(url string) *jwksCache {
	return &jwksCache{
		url:  url,
		keys: make(map[string]*rsa.PublicKey),
	}
}

func (c *jwksCache) publicKey(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	if time.Since(c.fetchedAt) < time.Minute && len(c.keys) > 0 {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}

	if err := c.refresh(); err != nil {
		return nil, err
	}
	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

// refresh fetches the JWKS document and replaces the cached key set.
// Callers must hold the mutex.
func (c *jwksCache) refresh() error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "" && key.Kty != "RSA" {
			continue
		}
		publicKey, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = publicKey
	}
	c.keys = keys
	c.fetchedAt = time.Now()
	return nil
}

// parseRSAPublicKey builds an RSA public key from a JWK's base64url modulus
// and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	if len(eb) == 3 {
		// Common case for 65537
		exp = uint64(eb[0])<<16 | uint64(eb[1])<<8 | uint64(eb[2])
	} else {
		for _, b := range eb {
			exp = (exp << 8) | uint64(b)
		}
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}
