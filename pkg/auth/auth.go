// Package auth issues and verifies API tokens.
//
// Tokens are HS256 JWTs carrying the username as subject. The HTTP layer
// accepts them as bearer tokens and stores the verified username on the
// request context.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var ErrUnauthorized = errors.New("unauthorized")

type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the user.
func (i *Issuer) Issue(username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	})
	return token.SignedString(i.secret)
}

// Verify parses a token and returns its username.
func (i *Issuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenString, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: token without subject", ErrUnauthorized)
	}
	return subject, nil
}

// UserKey is the echo context key the verified username is stored under.
const UserKey = "dockyard-user"

// Middleware rejects requests without a valid bearer token.
func Middleware(issuer *Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return echo.NewHTTPError(401, "bearer token required")
			}
			username, err := issuer.Verify(token)
			if err != nil {
				return echo.NewHTTPError(401, "invalid token")
			}
			c.Set(UserKey, username)
			return next(c)
		}
	}
}

// User reads the verified username off the request context.
func User(c echo.Context) string {
	if username, ok := c.Get(UserKey).(string); ok {
		return username
	}
	return ""
}
