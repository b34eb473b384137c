package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apierr "github.com/dockyard-paas/dockyard/pkg/api/types/errors"
	"github.com/dockyard-paas/dockyard/pkg/api/types/keys"
	"github.com/dockyard-paas/dockyard/pkg/auth"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	"github.com/dockyard-paas/dockyard/pkg/key"
)

func AddKeyHandler(km *key.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		req := keys.AddRequest{}
		if err := c.Bind(&req); err != nil || req.Id == "" || req.Public == "" {
			return apierr.BadRequest(`body should carry a key id and the public key`, err)
		}

		k := domain.Key{Id: req.Id, Owner: auth.User(c), Public: req.Public}
		fingerprint, err := km.Add(ctx, k)
		if err != nil {
			return translate(err)
		}
		return c.JSON(http.StatusCreated, keys.ComposeDetail(k, fingerprint))
	}
}

func ListKeysHandler(km *key.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		found, err := km.List(ctx, auth.User(c))
		if err != nil {
			return translate(err)
		}
		details := make([]keys.Detail, 0, len(found))
		for _, k := range found {
			fingerprint, err := key.Fingerprint(k.Public)
			if err != nil {
				fingerprint = ""
			}
			details = append(details, keys.ComposeDetail(k, fingerprint))
		}
		return c.JSON(http.StatusOK, details)
	}
}

func DeleteKeyHandler(km *key.Manager, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if err := km.Remove(ctx, auth.User(c), c.Param(paramKey)); err != nil {
			return translate(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
