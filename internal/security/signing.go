package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims identify the router to a backend for one dispatched request
type ServiceClaims struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind,omitempty"`
	jwt.RegisteredClaims
}

// SigningConfig holds outbound request signing configuration
type SigningConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// ServiceTokenSigner issues short-lived HS256 tokens attached to backend calls.
// A nil signer is valid and signs nothing.
type ServiceTokenSigner struct {
	config *SigningConfig
}

// NewServiceTokenSigner returns nil when no secret is configured
func NewServiceTokenSigner(config *SigningConfig) *ServiceTokenSigner {
	if config == nil || config.Secret == "" {
		return nil
	}
	if config.TokenTTL == 0 {
		config.TokenTTL = time.Minute
	}
	if config.Issuer == "" {
		config.Issuer = "request-router"
	}
	return &ServiceTokenSigner{config: config}
}

// Sign issues a token for a request bound for the named service
func (s *ServiceTokenSigner) Sign(service, requestID, kind string) (string, error) {
	now := time.Now()

	claims := &ServiceClaims{
		RequestID: requestID,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   s.config.Issuer,
			Audience:  jwt.ClaimStrings{service},
			ID:        requestID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

// Verify parses a token issued by Sign. Backends sharing the secret can use it.
func (s *ServiceTokenSigner) Verify(tokenString, service string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithAudience(service), jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*ServiceClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid service token")
}
