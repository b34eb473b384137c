// Package container drives the lifecycle of a single container.
//
// Every lifecycle event runs the same way: guard the event against the
// transition table, perform the remote effect through the scheduler backend,
// then durably record the outcome state. Nothing remote happens when the
// guard rejects, and nothing is auto-retried when the remote effect fails.
package container

import (
	"context"
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/dockyard-paas/dockyard/pkg/db"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	xe "github.com/dockyard-paas/dockyard/pkg/errors"
	"github.com/dockyard-paas/dockyard/pkg/schedule"
)

// transition is one row of the lifecycle table.
type transition struct {
	sources map[domain.ContainerState]bool

	success domain.ContainerState

	// failure is recorded when the remote effect fails.
	// Empty keeps the prior state.
	failure domain.ContainerState
}

func from(states ...domain.ContainerState) map[domain.ContainerState]bool {
	set := map[domain.ContainerState]bool{}
	for _, s := range states {
		set[s] = true
	}
	return set
}

var transitions = map[string]transition{
	"create": {
		sources: from(domain.Initialized),
		success: domain.Created,
	},
	"start": {
		sources: from(domain.Created, domain.Up, domain.Down),
		success: domain.Up,
		failure: domain.Down,
	},
	"deploy": {
		sources: from(domain.Initialized, domain.Created, domain.Up, domain.Down),
		success: domain.Up,
		failure: domain.Down,
	},
	"stop": {
		sources: from(domain.Up),
		success: domain.Down,
	},
	"destroy": {
		sources: from(domain.Initialized, domain.Created, domain.Up, domain.Down),
		success: domain.Destroyed,
	},
	"run": {
		sources: from(domain.Initialized, domain.Created, domain.Destroyed),
		success: domain.Destroyed,
	},
}

// guard evaluates the table. Pure; no side effect on rejection.
func guard(event string, state domain.ContainerState) (transition, error) {
	tr, ok := transitions[event]
	if !ok || !tr.sources[state] {
		return transition{}, domain.NewErrInvalidTransition(event, state)
	}
	return tr, nil
}

// Lifecycle serializes transitions per container and keeps the durable
// state in step with the remote units.
type Lifecycle struct {
	containers db.ContainerInterface
	backend    schedule.Backend
	logger     *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(containers db.ContainerInterface, backend schedule.Backend, logger *log.Logger) *Lifecycle {
	return &Lifecycle{
		containers: containers,
		backend:    backend,
		logger:     logger,
		locks:      map[string]*sync.Mutex{},
	}
}

// lock returns the mutex of one container.
//
// Concurrent transitions on different containers never collide remotely
// (job identities are unique by construction), so only same-container
// attempts are serialized.
func (l *Lifecycle) lock(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = new(sync.Mutex)
		l.locks[id] = m
	}
	return m
}

// settle records the outcome of a remote effect.
//
// On success the success state is persisted before returning. On failure the
// failure state is persisted when the table names one; otherwise the prior
// state stands and the caller owns remediation.
func (l *Lifecycle) settle(ctx context.Context, c domain.Container, tr transition, remoteErr error) (domain.Container, error) {
	if remoteErr != nil {
		if tr.failure != "" {
			if err := l.containers.SetState(ctx, c.Id, tr.failure); err != nil {
				l.logger.Errorf("container %s: cannot record %s after failure: %s", c, tr.failure, err)
			} else {
				c.State = tr.failure
			}
		}
		return c, remoteErr
	}
	if err := l.containers.SetState(ctx, c.Id, tr.success); err != nil {
		return c, xe.Wrap(err)
	}
	c.State = tr.success
	return c, nil
}

func limits(rel domain.Release) schedule.ResourceLimits {
	return schedule.ResourceLimits{Memory: rel.Limit.Memory, CPU: rel.Limit.CPU}
}

// Create provisions the container's remote units. initialized -> created.
func (l *Lifecycle) Create(ctx context.Context, c domain.Container, rel domain.Release) (domain.Container, error) {
	m := l.lock(c.Id)
	m.Lock()
	defer m.Unlock()

	tr, err := guard("create", c.State)
	if err != nil {
		return c, err
	}
	remoteErr := l.backend.Create(ctx, c.JobName(), rel.Image, c.Command(), limits(rel), c.Announceable())
	return l.settle(ctx, c, tr, remoteErr)
}

// Start starts the container. {created, up, down} -> up, down on failure.
func (l *Lifecycle) Start(ctx context.Context, c domain.Container) (domain.Container, error) {
	m := l.lock(c.Id)
	m.Lock()
	defer m.Unlock()

	tr, err := guard("start", c.State)
	if err != nil {
		return c, err
	}
	remoteErr := l.backend.Start(ctx, c.JobName(), c.Announceable())
	return l.settle(ctx, c, tr, remoteErr)
}

// Deploy replaces the container's job with one for newRelease, keeping the
// container's identity (app, type, num).
//
// The record is repointed at the new release before the new job starts, and
// the old job is destroyed only after the new one is up. When the new job
// fails to start the old job stays behind while the record already names the
// new release. Known gap; recovery is an operational concern.
func (l *Lifecycle) Deploy(ctx context.Context, c domain.Container, newRelease domain.Release) (domain.Container, error) {
	m := l.lock(c.Id)
	m.Lock()
	defer m.Unlock()

	tr, err := guard("deploy", c.State)
	if err != nil {
		return c, err
	}

	oldJob := c.JobName()
	if err := l.containers.SetRelease(ctx, c.Id, newRelease.Version); err != nil {
		return c, xe.Wrap(err)
	}
	c.ReleaseVersion = newRelease.Version

	remoteErr := l.backend.Create(ctx, c.JobName(), newRelease.Image, c.Command(), limits(newRelease), c.Announceable())
	if remoteErr == nil {
		remoteErr = l.backend.Start(ctx, c.JobName(), c.Announceable())
	}
	if remoteErr != nil {
		l.logger.Errorf("container %s: deploy superseded %s but the new job did not start: %s", c, oldJob, remoteErr)
		return l.settle(ctx, c, tr, remoteErr)
	}

	if err := l.backend.Destroy(ctx, oldJob, c.Announceable()); err != nil {
		return l.settle(ctx, c, tr, err)
	}
	return l.settle(ctx, c, tr, nil)
}

// Stop stops the container. up -> down.
func (l *Lifecycle) Stop(ctx context.Context, c domain.Container) (domain.Container, error) {
	m := l.lock(c.Id)
	m.Lock()
	defer m.Unlock()

	tr, err := guard("stop", c.State)
	if err != nil {
		return c, err
	}
	remoteErr := l.backend.Stop(ctx, c.JobName(), c.Announceable())
	return l.settle(ctx, c, tr, remoteErr)
}

// Destroy removes the container's remote units. Terminal.
//
// TODO: drain active connections before destroying announceable containers.
func (l *Lifecycle) Destroy(ctx context.Context, c domain.Container) (domain.Container, error) {
	m := l.lock(c.Id)
	m.Lock()
	defer m.Unlock()

	tr, err := guard("destroy", c.State)
	if err != nil {
		return c, err
	}
	remoteErr := l.backend.Destroy(ctx, c.JobName(), c.Announceable())
	return l.settle(ctx, c, tr, remoteErr)
}

// Run executes command as a one-off job under the container's identity.
//
// # Returns
//
// - int : exit code. Non-zero exits are results, not errors.
//
// - []byte : combined output.
//
// - error : when the command could not be executed.
//
// The record ends in destroyed either way; one-off containers do not persist.
func (l *Lifecycle) Run(ctx context.Context, c domain.Container, rel domain.Release, command string) (int, []byte, error) {
	m := l.lock(c.Id)
	m.Lock()
	defer m.Unlock()

	tr, err := guard("run", c.State)
	if err != nil {
		return 0, nil, err
	}
	code, out, remoteErr := l.backend.Run(ctx, c.JobName(), rel.Image, command)
	if _, err := l.settle(ctx, c, tr, remoteErr); err != nil {
		return 0, nil, err
	}
	return code, out, nil
}
