package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dockyard-paas/dockyard/pkg/api/types/apps"
	apierr "github.com/dockyard-paas/dockyard/pkg/api/types/errors"
	"github.com/dockyard-paas/dockyard/pkg/app"
	"github.com/dockyard-paas/dockyard/pkg/auth"
	kdb "github.com/dockyard-paas/dockyard/pkg/db"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	"github.com/dockyard-paas/dockyard/pkg/schedule"
)

// translate maps domain errors onto API responses.
func translate(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, domain.ErrMissing):
		return apierr.NotFound()
	case errors.Is(err, domain.ErrConflict):
		return apierr.Conflict("the entity already exists", err)
	case errors.Is(err, domain.ErrValidation):
		return apierr.BadRequest("the request names something the application does not have", err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return apierr.Conflict("the container is not in a state allowing that", err)
	case errors.Is(err, schedule.ErrAnnouncerTimeout), errors.Is(err, schedule.ErrRemoteCommand):
		return apierr.ServiceUnavailable("the cluster did not carry out the request", err)
	default:
		return apierr.InternalServerError(err)
	}
}

func CreateAppHandler(orc *app.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		req := apps.CreateRequest{}
		if err := c.Bind(&req); err != nil {
			return apierr.BadRequest(`malformed request body`, err)
		}

		created, err := orc.Create(ctx, domain.App{
			Id: req.Id, Owner: auth.User(c), Cluster: req.Cluster,
		})
		if err != nil {
			return translate(err)
		}
		return c.JSON(http.StatusCreated, apps.ComposeDetail(created))
	}
}

func ListAppsHandler(dbApps kdb.AppInterface) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		found, err := dbApps.List(ctx, c.QueryParam("owner"))
		if err != nil {
			return translate(err)
		}
		details := make([]apps.Detail, 0, len(found))
		for _, a := range found {
			details = append(details, apps.ComposeDetail(a))
		}
		return c.JSON(http.StatusOK, details)
	}
}

func GetAppHandler(dbApps kdb.AppInterface, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		a, err := dbApps.Get(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}
		return c.JSON(http.StatusOK, apps.ComposeDetail(a))
	}
}

func DeleteAppHandler(orc *app.Orchestrator, dbApps kdb.AppInterface, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		a, err := dbApps.Get(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}
		if err := orc.Destroy(ctx, a); err != nil {
			return translate(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func ListContainersHandler(dbContainers kdb.ContainerInterface, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		found, err := dbContainers.List(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}
		details := make([]apps.ContainerDetail, 0, len(found))
		for _, cont := range found {
			details = append(details, apps.ComposeContainerDetail(cont))
		}
		return c.JSON(http.StatusOK, details)
	}
}

func ScaleAppHandler(orc *app.Orchestrator, dbApps kdb.AppInterface, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		a, err := dbApps.Get(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}

		req := apps.ScaleRequest{}
		if err := c.Bind(&req); err != nil {
			return apierr.BadRequest(`body should map process types to counts, like {"web": 2}`, err)
		}
		if len(req) == 0 {
			return apierr.BadRequest(`body should map process types to counts, like {"web": 2}`, nil)
		}

		if _, err := orc.Scale(ctx, a, req); err != nil {
			return translate(err)
		}

		a, err = dbApps.Get(ctx, a.Id)
		if err != nil {
			return translate(err)
		}
		return c.JSON(http.StatusOK, apps.ComposeDetail(a))
	}
}

func RunCommandHandler(orc *app.Orchestrator, dbApps kdb.AppInterface, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		a, err := dbApps.Get(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}

		req := apps.RunRequest{}
		if err := c.Bind(&req); err != nil || req.Command == "" {
			return apierr.BadRequest(`body should carry a command to run`, err)
		}

		code, out, err := orc.Run(ctx, a, req.Command)
		if err != nil {
			return translate(err)
		}
		return c.JSON(http.StatusOK, apps.RunResponse{ExitCode: code, Output: string(out)})
	}
}

func AddDomainHandler(orc *app.Orchestrator, dbApps kdb.AppInterface, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		a, err := dbApps.Get(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}

		req := apps.DomainRequest{}
		if err := c.Bind(&req); err != nil || req.Domain == "" {
			return apierr.BadRequest(`body should carry a domain name`, err)
		}

		d := domain.DomainName{AppId: a.Id, Owner: auth.User(c), Domain: req.Domain}
		if err := orc.AddDomain(ctx, d); err != nil {
			return translate(err)
		}
		return c.JSON(http.StatusCreated, apps.ComposeDomainDetail(d))
	}
}

func RemoveDomainHandler(orc *app.Orchestrator, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if err := orc.RemoveDomain(ctx, c.Param(paramKey)); err != nil {
			return translate(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func ListDomainsHandler(dbDomains kdb.DomainInterface, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		found, err := dbDomains.List(ctx, c.Param(paramKey))
		if err != nil {
			return translate(err)
		}
		details := make([]apps.DomainDetail, 0, len(found))
		for _, d := range found {
			details = append(details, apps.ComposeDomainDetail(d))
		}
		return c.JSON(http.StatusOK, details)
	}
}
