package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// signingMethod is the only algorithm TokenService signs with or accepts.
var signingMethod = jwt.SigningMethodHS256

type tokenClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

func NewTokenService(secret []byte, issuer string, now func() time.Time) *TokenService {
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuer(issuer),
			jwt.WithTimeFunc(now),
		),
	}
}

// Issue signs subject and role with expires_at = issued_at + ttl.
func (s *TokenService) Issue(subject string, role Role, ttl time.Duration) (string, Claims, error) {
	issuedAt := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		TokenID:   uuid.NewString(),
		Subject:   subject,
		Role:      role,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl),
	}

	token := jwt.NewWithClaims(signingMethod, tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.TokenID,
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	encoded, err := token.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, claims, nil
}

// Verify returns ErrExpiredToken, ErrInvalidSignature or ErrMalformedToken
// on failure. A header naming any algorithm other than HS256, or none at all,
// is an invalid signature regardless of payload.
func (s *TokenService) Verify(tokenString string) (Claims, error) {
	parsed := &tokenClaims{}
	_, err := s.parser.ParseWithClaims(tokenString, parsed, func(token *jwt.Token) (any, error) {
		if token.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, classifyTokenError(err)
	}
	if parsed.Subject == "" || parsed.ExpiresAt == nil {
		return Claims{}, ErrMalformedToken
	}

	claims := Claims{
		TokenID:   parsed.ID,
		Subject:   parsed.Subject,
		Role:      parsed.Role,
		ExpiresAt: parsed.ExpiresAt.Time,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}

	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpiredToken, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
}
