package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apierr "github.com/dockyard-paas/dockyard/pkg/api/types/errors"
	"github.com/dockyard-paas/dockyard/pkg/api/types/releases"
	"github.com/dockyard-paas/dockyard/pkg/app"
	"github.com/dockyard-paas/dockyard/pkg/auth"
	kdb "github.com/dockyard-paas/dockyard/pkg/db"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	"github.com/dockyard-paas/dockyard/pkg/release"
)

func DeployHandler(orc *app.Orchestrator, dbApps kdb.AppInterface, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		a, err := dbApps.Get(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}

		req := releases.DeployRequest{}
		if err := c.Bind(&req); err != nil {
			return apierr.BadRequest(`malformed request body`, err)
		}

		owner := auth.User(c)
		rr := release.Request{Owner: owner, Summary: req.Summary}
		if b := req.Build; b != nil {
			if b.Image == "" {
				return apierr.BadRequest(`a build needs an image reference`, nil)
			}
			rr.Build = &domain.Build{
				Owner:      owner,
				Image:      b.Image,
				SourceRev:  b.SourceRev,
				Procfile:   b.Procfile,
				Dockerfile: b.Dockerfile,
			}
		}
		if cf := req.Config; cf != nil {
			rr.Config = &domain.Config{Owner: owner, Values: cf.Values}
		}
		if l := req.Limit; l != nil {
			rr.Limit = &domain.Limit{Owner: owner, Memory: l.Memory, CPU: l.CPU}
		}

		rel, err := orc.Deploy(ctx, a, rr)
		if err != nil {
			return translate(err)
		}
		return c.JSON(http.StatusCreated, releases.ComposeDetail(rel))
	}
}

func ListReleasesHandler(dbReleases kdb.ReleaseInterface, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		found, err := dbReleases.List(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}
		details := make([]releases.Detail, 0, len(found))
		for _, rel := range found {
			details = append(details, releases.ComposeDetail(rel))
		}
		return c.JSON(http.StatusOK, details)
	}
}

func GetReleaseHandler(dbReleases kdb.ReleaseInterface, paramKey string, versionKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		version, err := strconv.Atoi(c.Param(versionKey))
		if err != nil {
			return apierr.BadRequest(`version should be a number`, err)
		}
		rel, err := dbReleases.Get(ctx, c.Param(paramKey), version)
		if err != nil {
			return translate(err)
		}
		return c.JSON(http.StatusOK, releases.ComposeDetail(rel))
	}
}

func RollbackHandler(
	rm *release.Manager, orc *app.Orchestrator, dbApps kdb.AppInterface, paramKey string,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		a, err := dbApps.Get(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}

		req := releases.RollbackRequest{}
		if err := c.Bind(&req); err != nil {
			return apierr.BadRequest(`malformed request body`, err)
		}

		rel, err := rm.Rollback(ctx, a, auth.User(c), req.Version)
		if err != nil {
			return translate(err)
		}
		if err := orc.Rollout(ctx, a, rel); err != nil {
			return translate(err)
		}
		return c.JSON(http.StatusCreated, releases.ComposeDetail(rel))
	}
}
