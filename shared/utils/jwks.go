package utils

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKSValidator validates JWT tokens against the platform auth service's
// published key set.
type JWKSValidator struct {
	jwksURL     string
	keys        map[string]*rsa.PublicKey
	mutex       sync.RWMutex
	lastRefresh time.Time
	refreshTTL  time.Duration
}

// NewJWKSValidator creates a validator over the given JWKS endpoint
func NewJWKSValidator(jwksURL string) *JWKSValidator {
	validator := &JWKSValidator{
		jwksURL:    jwksURL,
		keys:       make(map[string]*rsa.PublicKey),
		refreshTTL: 24 * time.Hour,
	}

	// Load keys on initialization
	_ = validator.refreshKeys()

	return validator
}

// refreshKeys fetches and caches the public keys from the JWKS endpoint
func (v *JWKSValidator) refreshKeys() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	// Skip if recently refreshed
	if time.Since(v.lastRefresh) < v.refreshTTL {
		return nil
	}

	resp, err := http.Get(v.jwksURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var jwks JWKS
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	newKeys := make(map[string]*rsa.PublicKey)
	for _, jwk := range jwks.Keys {
		if jwk.Kty != "RSA" {
			continue
		}

		pubKey, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			continue
		}

		newKeys[jwk.Kid] = pubKey
	}

	v.keys = newKeys
	v.lastRefresh = time.Now()

	return nil
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode N: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode E: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// GetKey returns the public key for the given key ID, refreshing the key
// set once if the kid is unknown.
func (v *JWKSValidator) GetKey(kid string) (*rsa.PublicKey, error) {
	v.mutex.RLock()
	key, exists := v.keys[kid]
	v.mutex.RUnlock()

	if exists {
		return key, nil
	}

	if err := v.refreshKeys(); err != nil {
		return nil, fmt.Errorf("failed to refresh keys: %w", err)
	}

	v.mutex.RLock()
	key, exists = v.keys[kid]
	v.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}

	return key, nil
}

// ValidateToken validates a JWT token using the key set
func (v *JWKSValidator) ValidateToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid not found in token header")
		}

		return v.GetKey(kid)
	})

	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	return token, nil
}
