// Package middleware provides Gin HTTP middleware for authentication, rate
// limiting, security headers, request IDs, and Prometheus metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → RateLimit → Auth → Handler
//
// Security headers run early so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attempts before any
// bcrypt or database work. Auth populates the caller identity and scopes;
// RequireScope reads from that context.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldtrace/fieldtrace/internal/auth"
	"github.com/fieldtrace/fieldtrace/internal/auth/oidc"
	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
	"github.com/fieldtrace/fieldtrace/internal/safego"
)

// Context keys set by AuthMiddleware for downstream handlers.
const (
	// ContextActorKey holds the authenticated caller identity: the API key
	// name for key auth, or the OIDC subject (email when present) for bearer
	// tokens. Handlers stamp this value onto recorded change-sets.
	ContextActorKey = "actor"

	// ContextScopesKey holds the caller's granted scopes as []string.
	ContextScopesKey = "scopes"

	// ContextAPIKeyIDKey holds the API key row ID when key auth was used.
	ContextAPIKeyIDKey = "api_key_id"

	// ContextAuthMethodKey records which credential type authenticated the
	// request: "api_key" or "oidc".
	ContextAuthMethodKey = "auth_method"
)

// AuthMiddleware authenticates every request with either a fieldtrace API key
// or an OIDC ID token presented as a Bearer credential.
//
// API keys are recognized by their configured prefix (e.g. "ft_..."). The
// display prefix narrows the candidate set via an indexed lookup before the
// bcrypt comparison runs, so a request never triggers more than a handful of
// hash checks. Anything that does not look like an API key is handed to the
// OIDC verifier when one is configured.
//
// The verifier may be nil when OIDC is disabled; API key auth then is the only
// accepted credential.
func AuthMiddleware(cfg *config.Config, apiKeyRepo *repositories.APIKeyRepository, verifier *oidc.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		if cfg.Auth.APIKeys.Enabled && auth.LooksLikeAPIKey(token, cfg.Auth.APIKeys.Prefix) {
			authenticateAPIKey(c, apiKeyRepo, token)
			return
		}

		if verifier != nil {
			authenticateOIDC(c, cfg, verifier, token)
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Unrecognized credential",
		})
	}
}

func authenticateAPIKey(c *gin.Context, apiKeyRepo *repositories.APIKeyRepository, token string) {
	candidates, err := apiKeyRepo.GetByPrefix(c.Request.Context(), auth.DisplayPrefix(token))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to validate API key",
		})
		return
	}

	for _, key := range candidates {
		if !auth.ValidateAPIKey(token, key.KeyHash) {
			continue
		}

		if key.Expired(time.Now()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "API key has expired",
			})
			return
		}

		// Best-effort; a failed timestamp update must not fail the request.
		keyID := key.ID
		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiKeyRepo.TouchLastUsed(ctx, keyID)
		})

		c.Set(ContextActorKey, key.Name)
		c.Set(ContextScopesKey, key.Scopes)
		c.Set(ContextAPIKeyIDKey, key.ID)
		c.Set(ContextAuthMethodKey, "api_key")
		c.Next()
		return
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "Invalid API key",
	})
}

func authenticateOIDC(c *gin.Context, cfg *config.Config, verifier *oidc.Verifier, token string) {
	identity, err := verifier.VerifyBearer(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid bearer token",
		})
		return
	}

	actor := identity.Subject
	if identity.Email != "" {
		actor = identity.Email
	}

	scopes := cfg.Auth.OIDC.DefaultScopes
	if len(scopes) == 0 {
		scopes = auth.GetDefaultScopes()
	}

	c.Set(ContextActorKey, actor)
	c.Set(ContextScopesKey, scopes)
	c.Set(ContextAuthMethodKey, "oidc")
	c.Next()
}

// RequireScope returns middleware that rejects requests whose authenticated
// caller does not hold the required scope. It must run after AuthMiddleware.
func RequireScope(required auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes := CallerScopes(c)
		if scopes == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		if !auth.HasScope(scopes, required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":          "Insufficient scope",
				"required_scope": string(required),
			})
			return
		}

		c.Next()
	}
}

// CallerScopes returns the scopes AuthMiddleware stored on the context, or nil
// when the request is unauthenticated.
func CallerScopes(c *gin.Context) []string {
	value, exists := c.Get(ContextScopesKey)
	if !exists {
		return nil
	}
	scopes, ok := value.([]string)
	if !ok {
		return nil
	}
	return scopes
}

// CallerActor returns the actor identity AuthMiddleware stored on the context.
func CallerActor(c *gin.Context) string {
	return c.GetString(ContextActorKey)
}
