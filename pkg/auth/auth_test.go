package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dockyard-paas/dockyard/pkg/auth"
	"github.com/dockyard-paas/dockyard/pkg/utils/try"
)

func TestIssuer(t *testing.T) {
	t.Run("it verifies what it issued", func(t *testing.T) {
		issuer := auth.NewIssuer("secret", time.Hour)
		token := try.To(issuer.Issue("alice")).OrFatal(t)
		username := try.To(issuer.Verify(token)).OrFatal(t)
		if username != "alice" {
			t.Errorf("got %s, want alice", username)
		}
	})

	t.Run("it rejects tokens signed with another secret", func(t *testing.T) {
		token := try.To(auth.NewIssuer("other", time.Hour).Issue("alice")).OrFatal(t)
		if _, err := auth.NewIssuer("secret", time.Hour).Verify(token); !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("got %v, want ErrUnauthorized", err)
		}
	})

	t.Run("it rejects expired tokens", func(t *testing.T) {
		issuer := auth.NewIssuer("secret", -time.Minute)
		token := try.To(issuer.Issue("alice")).OrFatal(t)
		if _, err := issuer.Verify(token); !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("got %v, want ErrUnauthorized", err)
		}
	})
}

func TestMiddleware(t *testing.T) {
	issuer := auth.NewIssuer("secret", time.Hour)
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		return c.String(200, auth.User(c))
	}, auth.Middleware(issuer))

	t.Run("it passes requests carrying a valid bearer token", func(t *testing.T) {
		token := try.To(issuer.Issue("alice")).OrFatal(t)
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != 200 || rec.Body.String() != "alice" {
			t.Errorf("got (%d, %q)", rec.Code, rec.Body.String())
		}
	})

	t.Run("it rejects requests without a token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != 401 {
			t.Errorf("got %d, want 401", rec.Code)
		}
	})
}
