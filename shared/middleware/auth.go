package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/edutech/lms-tenancy/shared/utils"
)

// AuthMiddleware validates the JWT issued by the platform auth service
// and attaches the authenticated user to the request context. The
// tenancy core never issues tokens itself.
type AuthMiddleware struct {
	jwksValidator *utils.JWKSValidator
	trustUpstream bool
}

// AuthClaims are the token claims the tenancy core cares about
type AuthClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware creates the middleware. With trustUpstream set the
// gateway has already verified signatures and tokens are only parsed;
// otherwise they are verified against the auth service's JWKS endpoint.
func NewAuthMiddleware(jwksURL string, trustUpstream bool) *AuthMiddleware {
	var validator *utils.JWKSValidator
	if !trustUpstream {
		validator = utils.NewJWKSValidator(jwksURL)
	}
	return &AuthMiddleware{
		jwksValidator: validator,
		trustUpstream: trustUpstream,
	}
}

// RequireAuth rejects requests without a valid bearer token
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			c.Abort()
			return
		}

		claims, err := am.parseToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.Sub)
		c.Set("email", claims.Email)
		c.Set("user_name", claims.Name)

		c.Next()
	}
}

// OptionalAuth attaches the user when a valid token is present but never
// rejects. Used on routes that serve both anonymous and tenant traffic.
func (am *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := extractToken(c); tokenString != "" {
			if claims, err := am.parseToken(tokenString); err == nil {
				c.Set("user_id", claims.Sub)
				c.Set("email", claims.Email)
				c.Set("user_name", claims.Name)
			}
		}
		c.Next()
	}
}

// parseToken parses (and when configured, verifies) a token, caching the
// extracted claims in Redis keyed by token hash.
func (am *AuthMiddleware) parseToken(tokenString string) (*AuthClaims, error) {
	cacheKey := claimsCacheKey(tokenString)
	if cachedData, err := utils.CacheGet(cacheKey); err == nil {
		var claims AuthClaims
		if err := json.Unmarshal([]byte(cachedData), &claims); err == nil {
			return &claims, nil
		}
	}

	var mapClaims jwt.MapClaims
	if am.trustUpstream {
		token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
		var ok bool
		if mapClaims, ok = token.Claims.(jwt.MapClaims); !ok {
			return nil, fmt.Errorf("invalid token claims format")
		}
	} else {
		token, err := am.jwksValidator.ValidateToken(tokenString)
		if err != nil {
			return nil, err
		}
		var ok bool
		if mapClaims, ok = token.Claims.(jwt.MapClaims); !ok {
			return nil, fmt.Errorf("invalid token claims format")
		}
	}

	claims := &AuthClaims{
		Sub:   getClaimString(mapClaims, "sub"),
		Email: getClaimString(mapClaims, "email"),
		Name:  getClaimString(mapClaims, "name"),
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	if cacheData, err := json.Marshal(claims); err == nil {
		_ = utils.CacheSet(cacheKey, string(cacheData), 1*time.Hour)
	}

	return claims, nil
}

// claimsCacheKey hashes the token so raw tokens never land in Redis
func claimsCacheKey(tokenString string) string {
	hash := sha256.Sum256([]byte(tokenString))
	return "auth:claims:" + hex.EncodeToString(hash[:])
}

// extractToken extracts the JWT token from the Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return authHeader
}

// getClaimString safely extracts a string claim from JWT claims
func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
