// Package db declares the entity store of the control plane.
//
// Implementations: postgres (production), mock (in-memory, for tests).
package db

import (
	"context"

	"github.com/dockyard-paas/dockyard/pkg/domain"
)

type ClusterInterface interface {
	// Register stores a cluster. ErrConflict when the name is taken.
	Register(ctx context.Context, cluster domain.Cluster) error

	// Get a cluster by name. ErrMissing when not found.
	Get(ctx context.Context, name string) (domain.Cluster, error)
}

type AppInterface interface {
	// New stores an application. ErrConflict when the id is taken.
	New(ctx context.Context, app domain.App) error

	// Get an application by id. ErrMissing when not found.
	Get(ctx context.Context, id string) (domain.App, error)

	// List applications of an owner. Empty owner matches all.
	List(ctx context.Context, owner string) ([]domain.App, error)

	// SetStructure replaces the desired process structure.
	SetStructure(ctx context.Context, id string, structure map[string]int) error

	// Delete removes the application row.
	//
	// Containers must have been destroyed beforehand; this method does not
	// check that.
	Delete(ctx context.Context, id string) error
}

type ReleaseInterface interface {
	// New stores a release.
	//
	// ErrConflict when (application, version) is already taken.
	New(ctx context.Context, rel domain.Release) error

	// Latest returns the release with the highest version of the app.
	// ErrMissing when the app has no releases.
	Latest(ctx context.Context, appId string) (domain.Release, error)

	// Get a release by (application, version). ErrMissing when not found.
	Get(ctx context.Context, appId string, version int) (domain.Release, error)

	// List releases of an app, newest first.
	List(ctx context.Context, appId string) ([]domain.Release, error)

	// Delete all releases of an app.
	DeleteByApp(ctx context.Context, appId string) error
}

type ContainerInterface interface {
	// New stores a container record, assigning Id and CreatedAt.
	New(ctx context.Context, c domain.Container) (domain.Container, error)

	// Get a container by id. ErrMissing when not found.
	Get(ctx context.Context, id string) (domain.Container, error)

	// List containers of an app, ordered by creation time ascending.
	//
	// Destroyed containers are excluded.
	List(ctx context.Context, appId string) ([]domain.Container, error)

	// ListByType is List, restricted to one process type.
	ListByType(ctx context.Context, appId string, ctype string) ([]domain.Container, error)

	// MaxNum returns the highest num ever assigned for (app, type),
	// counting destroyed containers, or 0 when there was none.
	//
	// The next container of the type gets MaxNum + 1: nums are never reused.
	MaxNum(ctx context.Context, appId string, ctype string) (int, error)

	// SetState records the container's lifecycle state.
	SetState(ctx context.Context, id string, state domain.ContainerState) error

	// SetRelease repoints the container at another release version.
	//
	// The container's identity (app, type, num) is kept.
	SetRelease(ctx context.Context, id string, version int) error

	// DeleteByApp removes all container rows of an app.
	DeleteByApp(ctx context.Context, appId string) error
}

type KeyInterface interface {
	// New stores a public key. ErrConflict when (owner, id) is taken.
	New(ctx context.Context, key domain.Key) error

	// Get a key by owner and id. ErrMissing when not found.
	Get(ctx context.Context, owner string, id string) (domain.Key, error)

	// List keys of an owner.
	List(ctx context.Context, owner string) ([]domain.Key, error)

	// Delete a key by owner and id.
	Delete(ctx context.Context, owner string, id string) error
}

type DomainInterface interface {
	// Add a custom domain to an app. ErrConflict when the domain is taken.
	Add(ctx context.Context, d domain.DomainName) error

	// Remove a custom domain. ErrMissing when not found.
	Remove(ctx context.Context, name string) (domain.DomainName, error)

	// List domains of an app.
	List(ctx context.Context, appId string) ([]domain.DomainName, error)
}

// Store aggregates the per-entity interfaces.
type Store interface {
	Clusters() ClusterInterface
	Apps() AppInterface
	Releases() ReleaseInterface
	Containers() ContainerInterface
	Keys() KeyInterface
	Domains() DomainInterface

	Close() error
}
