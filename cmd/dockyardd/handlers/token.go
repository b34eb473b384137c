package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	apierr "github.com/dockyard-paas/dockyard/pkg/api/types/errors"
	"github.com/dockyard-paas/dockyard/pkg/auth"
)

// AdminSecretHeader authenticates provisioning requests (token minting,
// cluster registration). The secret is shared with the operator's tooling.
const AdminSecretHeader = "X-Dockyard-Admin-Secret"

type TokenRequest struct {
	Username string `json:"username"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

func IssueTokenHandler(issuer *auth.Issuer, adminSecret string) echo.HandlerFunc {
	return func(c echo.Context) error {
		given := c.Request().Header.Get(AdminSecretHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(adminSecret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "admin secret required")
		}

		req := TokenRequest{}
		if err := c.Bind(&req); err != nil || req.Username == "" {
			return apierr.BadRequest(`body should carry a username`, err)
		}

		token, err := issuer.Issue(req.Username)
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusCreated, TokenResponse{Token: token})
	}
}
