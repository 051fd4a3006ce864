// Package auth provides HMAC-based API key authentication for the relay
// agent's HTTP surface.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// tenantIDContextKey is the gin context key for the authenticated tenant.
const tenantIDContextKey = "beacon_tenant_id"

// Queries defines the database operations needed for authentication.
// Implemented by *db.Queries.
type Queries interface {
	Get(name string, dest interface{}, args ...interface{}) error
	Exec(name string, args ...interface{}) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds an in-memory secret map for O(1) lookup and queries for key
// verification.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
	}
}

// Authenticate validates an API key and returns the tenant_id on success.
// Returns a specific error per failure mode.
func (a *Authenticator) Authenticate(apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	// O(1) lookup of HMAC secret using secret_id from the key format
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	computedHash := ComputeHMAC(secret, apiKey)

	var result struct {
		APIKeyID   string         `db:"api_key_id"`
		TenantID   string         `db:"tenant_id"`
		RevokedAt  sql.NullString `db:"revoked_at"`
		LastUsedAt sql.NullString `db:"last_used_at"`
	}

	err = a.queries.Get("get-api-key-by-hash", &result, computedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("database error: %w", err)
	}

	if result.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// 1-minute throttle reduces write amplification for chatty relays
	if shouldUpdateLastUsed(result.LastUsedAt) {
		now := time.Now().UTC().Format(time.RFC3339)
		_, _ = a.queries.Exec("update-last-used", now, result.APIKeyID)
	}

	return result.TenantID, nil
}

func shouldUpdateLastUsed(lastUsed sql.NullString) bool {
	if !lastUsed.Valid {
		return true
	}
	t, err := time.Parse(time.RFC3339, lastUsed.String)
	if err != nil {
		return true
	}
	return time.Since(t) > time.Minute
}

// Middleware returns a gin handler that authenticates every request via
// the X-API-Key header and injects the tenant id for downstream handlers.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingKey.Error()})
			return
		}

		tenantID, err := a.Authenticate(apiKey)
		if err != nil {
			switch {
			case errors.Is(err, ErrKeyRevoked):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			case isDatabaseError(err):
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authentication temporarily unavailable"})
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			}
			return
		}

		c.Set(tenantIDContextKey, tenantID)
		c.Next()
	}
}

func isDatabaseError(err error) bool {
	return !errors.Is(err, ErrMissingKey) &&
		!errors.Is(err, ErrInvalidKeyFormat) &&
		!errors.Is(err, ErrUnknownKey) &&
		!errors.Is(err, ErrInvalidKey) &&
		!errors.Is(err, ErrKeyRevoked)
}

// TenantIDFromContext extracts the tenant id set by Middleware.
// Returns empty string if not present.
func TenantIDFromContext(c *gin.Context) string {
	if tenantID, ok := c.Get(tenantIDContextKey); ok {
		if s, ok := tenantID.(string); ok {
			return s
		}
	}
	return ""
}
