// Package release builds and versions releases.
//
// A release binds a build, a config and a limit into one runnable image.
// Versions are per application, start at 1 and increase by one with no gaps
// and no reuse; rollbacks produce a new version rather than rewriting
// history.
package release

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/dockyard-paas/dockyard/pkg/db"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	xe "github.com/dockyard-paas/dockyard/pkg/errors"
	"github.com/dockyard-paas/dockyard/pkg/registry"
)

type Manager struct {
	releases db.ReleaseInterface
	registry registry.Client
	logger   *log.Logger

	// registryAddr is "host:port" of the internal registry,
	// the prefix of every release image reference.
	registryAddr string
}

func NewManager(releases db.ReleaseInterface, reg registry.Client, registryAddr string, logger *log.Logger) *Manager {
	return &Manager{
		releases:     releases,
		registry:     reg,
		logger:       logger,
		registryAddr: registryAddr,
	}
}

// Request describes a release to create. Nil Build/Config/Limit default to
// the values attached to the application's latest release.
type Request struct {
	App   domain.App
	Owner string

	Build  *domain.Build
	Config *domain.Config
	Limit  *domain.Limit

	// Summary overrides the generated one when not empty.
	Summary string
}

// New creates the next release of an application.
//
// External images (builds without a source revision) are first imported into
// the internal registry. The release row is persisted before the publish
// step runs; a publish failure therefore fails the call but leaves the row
// behind, pointing at an image that was never pushed. Callers must not
// deploy a release whose creation returned an error.
func (m *Manager) New(ctx context.Context, req Request) (domain.Release, error) {
	version := 1
	prev, err := m.releases.Latest(ctx, req.App.Id)
	switch {
	case err == nil:
		version = prev.Version + 1
	case errors.Is(err, domain.ErrMissing):
		// first release of the app
	default:
		return domain.Release{}, xe.Wrap(err)
	}

	build := prev.Build
	if req.Build != nil {
		build = *req.Build
	}
	config := prev.Config
	if req.Config != nil {
		config = *req.Config
	}
	limit := prev.Limit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if build.Image == "" {
		return domain.Release{}, fmt.Errorf(
			"%w: the first release of %s needs a build", domain.ErrValidation, req.App.Id,
		)
	}

	targetImage := fmt.Sprintf("%s/%s", m.registryAddr, req.App.Id)

	sourceImage := build.Image
	if build.SourceRev == "" {
		// externally supplied image. Pull it into the internal registry
		// under the application's id, keeping an explicit tag if any.
		if err := m.registry.Import(ctx, build.Image, req.App.Id); err != nil {
			return domain.Release{}, err
		}
		sourceImage = req.App.Id
		if tag := imageTag(build.Image); tag != "" {
			sourceImage = fmt.Sprintf("%s:%s", req.App.Id, tag)
		}
	}

	rel := domain.Release{
		AppId:   req.App.Id,
		Version: version,
		Owner:   req.Owner,
		Build:   build,
		Config:  config,
		Limit:   limit,
		Image:   targetImage,
		Summary: req.Summary,

		CreatedAt: time.Now(),
	}
	if rel.Summary == "" {
		rel.Summary = summarize(req.Owner, prev, rel)
	}

	if err := m.releases.New(ctx, rel); err != nil {
		return domain.Release{}, xe.Wrap(err)
	}

	m.logger.Infof("release %s v%d: publishing %s -> %s", req.App.Id, version, sourceImage, targetImage)
	if err := m.registry.Publish(ctx, sourceImage, config.Values, targetImage); err != nil {
		// the row of this version is already persisted and now names an
		// image that was never pushed. Surfaced, not rolled back.
		m.logger.Errorf("release %s v%d: publish failed, row kept: %s", req.App.Id, version, err)
		return domain.Release{}, err
	}
	return rel, nil
}

// Rollback creates a new release carrying the build, config and limit of an
// older version. Version 0 targets the one before the latest.
func (m *Manager) Rollback(ctx context.Context, app domain.App, owner string, version int) (domain.Release, error) {
	latest, err := m.releases.Latest(ctx, app.Id)
	if err != nil {
		return domain.Release{}, xe.Wrap(err)
	}
	if version == 0 {
		version = latest.Version - 1
	}
	if version < 1 {
		return domain.Release{}, fmt.Errorf("%w: no release to roll back to", domain.ErrValidation)
	}
	target, err := m.releases.Get(ctx, app.Id, version)
	if err != nil {
		return domain.Release{}, xe.Wrap(err)
	}
	return m.New(ctx, Request{
		App: app, Owner: owner,
		Build:   &target.Build,
		Config:  &target.Config,
		Limit:   &target.Limit,
		Summary: fmt.Sprintf("%s rolled back to v%d", owner, version),
	})
}

// imageTag extracts an explicit tag from an image reference: the text after
// the last ":" counts only when it contains no "/" (otherwise it is a
// registry port).
func imageTag(image string) string {
	i := strings.LastIndex(image, ":")
	if i < 0 {
		return ""
	}
	tag := image[i+1:]
	if strings.Contains(tag, "/") {
		return ""
	}
	return tag
}

// summarize describes what changed between two consecutive releases.
func summarize(owner string, prev domain.Release, next domain.Release) string {
	if next.Version == 1 {
		return fmt.Sprintf("%s created the initial release", owner)
	}

	if !next.Build.Equal(prev.Build) {
		what := next.Build.Image
		if rev := next.Build.SourceRev; rev != "" {
			what = shortRev(rev)
		}
		return fmt.Sprintf("%s deployed %s", next.Build.Owner, what)
	}

	if !next.Config.Equal(prev.Config) {
		added, changed, deleted := mapDiff(prev.Config.Values, next.Config.Values)
		if text := renderDiff(added, changed, deleted, ""); text != "" {
			return fmt.Sprintf("%s %s", next.Config.Owner, text)
		}
	}

	if !next.Limit.Equal(prev.Limit) {
		added, changed, deleted := mapDiff(prev.Limit.Memory, next.Limit.Memory)
		if text := renderDiff(added, changed, deleted, "limit for "); text != "" {
			return fmt.Sprintf("%s %s", next.Limit.Owner, text)
		}
	}

	return fmt.Sprintf("%s changed nothing", owner)
}

func shortRev(rev string) string {
	if 7 < len(rev) {
		return rev[:7]
	}
	return rev
}
