// Package app orchestrates applications: bootstrap, deployment, scaling,
// one-off commands and teardown.
//
// The orchestrator owns no remote protocol itself. It decides which
// containers should exist and drives them through the container lifecycle,
// over the scheduler backend of the application's cluster.
package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/dockyard-paas/dockyard/pkg/container"
	"github.com/dockyard-paas/dockyard/pkg/db"
	"github.com/dockyard-paas/dockyard/pkg/discovery"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	xe "github.com/dockyard-paas/dockyard/pkg/errors"
	"github.com/dockyard-paas/dockyard/pkg/release"
	"github.com/dockyard-paas/dockyard/pkg/schedule"
	"github.com/dockyard-paas/dockyard/pkg/schedule/registry"
	"github.com/dockyard-paas/dockyard/pkg/utils/retry"
)

var appIdPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// BackendProvider builds the scheduler backend of a cluster.
type BackendProvider func(cluster domain.Cluster, logger *log.Logger) (schedule.Backend, error)

type Orchestrator struct {
	store     db.Store
	releases  *release.Manager
	discovery discovery.Store
	backends  BackendProvider
	logger    *log.Logger

	// BarrierTimeout bounds the wait on each batch of concurrent
	// container jobs. Scheduler start waits are themselves bounded by
	// 20 minutes, so the barrier sits above that.
	BarrierTimeout time.Duration

	mu         sync.Mutex
	lifecycles map[string]*container.Lifecycle
}

func New(store db.Store, releases *release.Manager, disc discovery.Store, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		store:          store,
		releases:       releases,
		discovery:      disc,
		backends:       registry.New,
		logger:         logger,
		BarrierTimeout: 30 * time.Minute,
		lifecycles:     map[string]*container.Lifecycle{},
	}
}

// WithBackends swaps the backend provider. For tests.
func (o *Orchestrator) WithBackends(p BackendProvider) *Orchestrator {
	o.backends = p
	return o
}

// lifecycle returns the container lifecycle of the app's cluster.
//
// Cached per cluster, so that per-container serialization holds across
// calls touching the same cluster.
func (o *Orchestrator) lifecycle(ctx context.Context, app domain.App) (*container.Lifecycle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l, ok := o.lifecycles[app.Cluster]; ok {
		return l, nil
	}

	cluster, err := o.store.Clusters().Get(ctx, app.Cluster)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	backend, err := o.backends(cluster, o.logger)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	l := container.New(o.store.Containers(), backend, o.logger)
	o.lifecycles[app.Cluster] = l
	return l, nil
}

// Create registers an application. No release and no containers exist yet;
// the first Deploy creates release v1.
func (o *Orchestrator) Create(ctx context.Context, app domain.App) (domain.App, error) {
	if !appIdPattern.MatchString(app.Id) {
		return domain.App{}, fmt.Errorf("%w: application id must match %s", domain.ErrValidation, appIdPattern)
	}
	if _, err := o.store.Clusters().Get(ctx, app.Cluster); err != nil {
		return domain.App{}, xe.WrapWithNote(fmt.Sprintf("app %s names an unknown cluster", app.Id), err)
	}
	if app.Structure == nil {
		app.Structure = map[string]int{}
	}
	if err := o.store.Apps().New(ctx, app); err != nil {
		return domain.App{}, xe.Wrap(err)
	}
	o.logger.Infof("created app %s on cluster %s for %s", app.Id, app.Cluster, app.Owner)
	return app, nil
}

// inferStructure guesses the first process structure of an app from its
// build, used when the app was never scaled.
func inferStructure(build domain.Build) map[string]int {
	switch {
	case build.SourceRev == "":
		// opaque supplied image
		return map[string]int{domain.ProcessTypeCmd: 1}
	case build.Dockerfile && len(build.Procfile) == 0:
		return map[string]int{domain.ProcessTypeCmd: 1}
	case len(build.Procfile) != 0 && build.Procfile[domain.ProcessTypeWeb] == "":
		return map[string]int{domain.ProcessTypeCmd: 1}
	default:
		return map[string]int{domain.ProcessTypeWeb: 1}
	}
}

// Deploy creates the next release and rolls it out.
//
// The first deploy of an app infers its structure and scales up from
// nothing. Later deploys replace the job of every live container with one
// running the new release, as a batch of independent rolling replacements.
func (o *Orchestrator) Deploy(ctx context.Context, app domain.App, req release.Request) (domain.Release, error) {
	req.App = app
	rel, err := o.releases.New(ctx, req)
	if err != nil {
		return domain.Release{}, err
	}
	if err := o.Rollout(ctx, app, rel); err != nil {
		return domain.Release{}, err
	}
	return rel, nil
}

// Rollout drives the app's containers onto an already created release.
func (o *Orchestrator) Rollout(ctx context.Context, app domain.App, rel domain.Release) error {
	lifecycle, err := o.lifecycle(ctx, app)
	if err != nil {
		return err
	}

	live, err := o.store.Containers().List(ctx, app.Id)
	if err != nil {
		return xe.Wrap(err)
	}

	if len(live) == 0 {
		structure := app.Structure
		if len(structure) == 0 {
			structure = inferStructure(rel.Build)
			if err := o.store.Apps().SetStructure(ctx, app.Id, structure); err != nil {
				return xe.Wrap(err)
			}
			app.Structure = structure
		}
		_, err := o.Scale(ctx, app, structure)
		return err
	}

	promises := make([]retry.Promise[domain.Container], 0, len(live))
	for _, c := range live {
		c := c
		promises = append(promises, retry.Go(ctx, retry.StaticBackoff(0), func() (domain.Container, error) {
			return lifecycle.Deploy(ctx, c, rel)
		}))
	}
	if err := o.barrier(ctx, promises); err != nil {
		return err
	}
	o.logger.Infof("deployed %s v%d to %d containers", app.Id, rel.Version, len(live))
	return nil
}

// Run executes a one-off command under the app's latest release.
//
// The command gets its own container record of the reserved "admin" type,
// destroyed as soon as the command finishes.
func (o *Orchestrator) Run(ctx context.Context, app domain.App, command string) (int, []byte, error) {
	rel, err := o.store.Releases().Latest(ctx, app.Id)
	if err != nil {
		return 0, nil, xe.WrapWithNote(fmt.Sprintf("app %s was never deployed", app.Id), err)
	}
	lifecycle, err := o.lifecycle(ctx, app)
	if err != nil {
		return 0, nil, err
	}

	num, err := o.store.Containers().MaxNum(ctx, app.Id, domain.ProcessTypeAdmin)
	if err != nil {
		return 0, nil, xe.Wrap(err)
	}
	c, err := o.store.Containers().New(ctx, domain.Container{
		AppId:          app.Id,
		ReleaseVersion: rel.Version,
		Type:           domain.ProcessTypeAdmin,
		Num:            num + 1,
		State:          domain.Initialized,
	})
	if err != nil {
		return 0, nil, xe.Wrap(err)
	}

	o.logger.Infof("%s: one-off %s: %s", app.Id, c, command)
	return lifecycle.Run(ctx, c, rel, command)
}

// Destroy tears an application down: every container, then the rows, then
// the discovery entries.
func (o *Orchestrator) Destroy(ctx context.Context, app domain.App) error {
	lifecycle, err := o.lifecycle(ctx, app)
	if err != nil {
		return err
	}

	live, err := o.store.Containers().List(ctx, app.Id)
	if err != nil {
		return xe.Wrap(err)
	}
	promises := make([]retry.Promise[domain.Container], 0, len(live))
	for _, c := range live {
		c := c
		promises = append(promises, retry.Go(ctx, retry.StaticBackoff(0), func() (domain.Container, error) {
			return lifecycle.Destroy(ctx, c)
		}))
	}
	if err := o.barrier(ctx, promises); err != nil {
		return err
	}

	if err := o.store.Containers().DeleteByApp(ctx, app.Id); err != nil {
		return xe.Wrap(err)
	}
	if err := o.store.Releases().DeleteByApp(ctx, app.Id); err != nil {
		return xe.Wrap(err)
	}
	if err := o.store.Apps().Delete(ctx, app.Id); err != nil {
		return xe.Wrap(err)
	}

	if err := o.discovery.DeleteTree(ctx, discovery.ServicesPath(app.Id)); err != nil {
		o.logger.Warnf("destroy %s: stale discovery entries remain: %s", app.Id, err)
	}
	if err := o.discovery.Delete(ctx, discovery.DomainsPath(app.Id)); err != nil {
		o.logger.Warnf("destroy %s: stale domain entry remains: %s", app.Id, err)
	}
	o.logger.Infof("destroyed app %s", app.Id)
	return nil
}

// AddDomain routes a custom domain to the app and republishes the app's
// domain list to the coordination store.
func (o *Orchestrator) AddDomain(ctx context.Context, d domain.DomainName) error {
	if err := o.store.Domains().Add(ctx, d); err != nil {
		return xe.Wrap(err)
	}
	o.logger.Infof("%s: domain %s added by %s", d.AppId, d.Domain, d.Owner)
	return o.syncDomains(ctx, d.AppId)
}

// RemoveDomain is the inverse of AddDomain.
func (o *Orchestrator) RemoveDomain(ctx context.Context, name string) error {
	d, err := o.store.Domains().Remove(ctx, name)
	if err != nil {
		return xe.Wrap(err)
	}
	o.logger.Infof("%s: domain %s removed", d.AppId, d.Domain)
	return o.syncDomains(ctx, d.AppId)
}

func (o *Orchestrator) syncDomains(ctx context.Context, appId string) error {
	ds, err := o.store.Domains().List(ctx, appId)
	if err != nil {
		return xe.Wrap(err)
	}
	if len(ds) == 0 {
		return xe.Wrap(o.discovery.Delete(ctx, discovery.DomainsPath(appId)))
	}
	names := make([]string, 0, len(ds))
	for _, d := range ds {
		names = append(names, d.Domain)
	}
	return xe.Wrap(o.discovery.Set(ctx, discovery.DomainsPath(appId), strings.Join(names, " ")))
}
