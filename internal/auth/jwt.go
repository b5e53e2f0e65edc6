package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"outpass/internal/leave"
)

// Token is a signed access token and its expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Claims represents JWT payload. The registered subject is the student or staff id.
type Claims struct {
	Role leave.Role `json:"role"`
	Name string     `json:"name"`
	jwt.RegisteredClaims
}

// Actor returns the identity recorded in approval logs.
func (c Claims) Actor() leave.Actor {
	name := c.Name
	if name == "" {
		name = c.Subject
	}
	return leave.Actor{Role: c.Role, Name: name}
}

// Issue signs an HS256 access token.
func Issue(subject string, role leave.Role, name, issuer, key string, ttl time.Duration) (Token, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role: role,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" || claims.Role == "" {
		return Claims{}, errors.New("token missing subject or role")
	}
	return *claims, nil
}
