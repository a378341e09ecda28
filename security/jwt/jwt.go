// Package jwt wraps token signing and verification for session tokens.
// Tokens are HS256-signed with a shared secret; the subject is the account
// email and the payload carries the numeric user id and role.
package jwt

import (
	"time"

	jwtstd "github.com/golang-jwt/jwt/v5"
)

// TokenError represents JWT token related errors
type TokenError string

func (e TokenError) Error() string {
	return string(e)
}

const (
	DefaultAccessTokenExpire = time.Hour * 24 * 7

	ErrNeedSigningKey = TokenError("cannot sign token without signing key")
	ErrInvalidToken   = TokenError("invalid token")
	ErrTokenParsing   = TokenError("token parsing error")
)

// Token represents the token body
type Token struct {
	JTI     string         `json:"jti"`
	Payload map[string]any `json:"payload"`
	Subject string         `json:"sub"`
	Expire  time.Duration  `json:"exp"`
}

// TokenManager handles JWT token operations
type TokenManager struct {
	key string
}

// NewTokenManager creates a new TokenManager instance
func NewTokenManager(key string) *TokenManager {
	return &TokenManager{key: key}
}

// validateKey validates the token key
func (jtm *TokenManager) validateKey() error {
	if jtm.key == "" {
		return ErrNeedSigningKey
	}
	return nil
}

// generateToken generates a JWT token
func (jtm *TokenManager) generateToken(token *Token) (string, error) {
	if err := jtm.validateKey(); err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwtstd.MapClaims{
		"jti":     token.JTI,
		"sub":     token.Subject,
		"payload": token.Payload,
		"iat":     now.Unix(),
		"exp":     now.Add(token.Expire).Unix(),
	}

	t := jwtstd.NewWithClaims(jwtstd.SigningMethodHS256, claims)
	return t.SignedString([]byte(jtm.key))
}

// GenerateAccessToken generates an access token expiring after the given
// duration (DefaultAccessTokenExpire when zero).
func (jtm *TokenManager) GenerateAccessToken(jti, subject string, payload map[string]any, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultAccessTokenExpire
	}
	return jtm.generateToken(&Token{
		JTI:     jti,
		Payload: payload,
		Subject: subject,
		Expire:  expiry,
	})
}

// ValidateToken verifies the signature and expiry of a JWT token. Only HS256
// is accepted.
func (jtm *TokenManager) ValidateToken(tokenString string) (*jwtstd.Token, error) {
	if err := jtm.validateKey(); err != nil {
		return nil, err
	}

	return jwtstd.Parse(tokenString, func(token *jwtstd.Token) (any, error) {
		return []byte(jtm.key), nil
	}, jwtstd.WithValidMethods([]string{jwtstd.SigningMethodHS256.Alg()}))
}

// DecodeToken decodes a JWT token into its claims. Any verification failure
// is reported as ErrInvalidToken so callers never leak signing detail.
func (jtm *TokenManager) DecodeToken(tokenString string) (map[string]any, error) {
	token, err := jtm.ValidateToken(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return token.Claims.(jwtstd.MapClaims), nil
}

// GetTokenExpiryTime extracts the expiration time from a token
func (jtm *TokenManager) GetTokenExpiryTime(tokenString string) (time.Time, error) {
	claims, err := jtm.DecodeToken(tokenString)
	if err != nil {
		return time.Time{}, err
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, ErrTokenParsing
	}

	return time.Unix(int64(exp), 0), nil
}

// GetSubjectFromToken extracts the subject from token claims
func GetSubjectFromToken(claims map[string]any) string {
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}

// getPayloadFromClaims extracts the payload from token claims
func getPayloadFromClaims(claims map[string]any) (map[string]any, bool) {
	payloadAny, ok := claims["payload"]
	if !ok {
		return nil, false
	}
	payload, ok := payloadAny.(map[string]any)
	return payload, ok
}

// GetPayloadString gets a string value from the token payload
func GetPayloadString(claims map[string]any, key string) string {
	if payload, ok := getPayloadFromClaims(claims); ok {
		if val, ok := payload[key].(string); ok {
			return val
		}
	}
	return ""
}

// GetPayloadInt64 gets an integer value from the token payload. JSON numbers
// decode as float64, so both representations are accepted.
func GetPayloadInt64(claims map[string]any, key string) int64 {
	payload, ok := getPayloadFromClaims(claims)
	if !ok {
		return 0
	}
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
