package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/danghamo/convoy/internal/domain/shared"
)

// Audience every control API token is issued for
const Audience = "convoy-control-api"

// clockSkew tolerated when checking exp/nbf
const clockSkew = 30 * time.Second

// JWTClaims are the claims of an operator token
type JWTClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// JWTService issues and checks HS256 operator tokens
type JWTService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// NewJWTService creates a token service. ttl is the lifetime of issued tokens.
func NewJWTService(secretKey string, issuer string, ttl time.Duration) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
		now:       time.Now,
	}
}

// GenerateToken issues a token for an authenticated operator and returns
// when it expires
func (s *JWTService) GenerateToken(operator string) (string, time.Time, error) {
	if operator == "" {
		return "", time.Time{}, shared.ErrInvalidInput("operator is required")
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)
	claims := JWTClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   operator,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, shared.WrapError(err, shared.KindUnknown, domain, "sign token")
	}
	return signed, expiresAt, nil
}

// ValidateToken checks signature, issuer, audience and lifetime
func (s *JWTService) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return s.secretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(Audience),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, shared.WrapError(err, shared.KindUnauthorized, domain, "invalid token")
	}
	if !token.Valid || claims.Operator == "" {
		return nil, shared.NewError(shared.KindUnauthorized, domain, "invalid token claims")
	}

	return claims, nil
}
