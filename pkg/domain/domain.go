// Package domain holds the entities of the Dockyard control plane.
//
// Applications are scaled over named process types. Each numbered instance of
// a process type is a Container, running the image of a Release on the
// cluster the application belongs to.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/dockyard-paas/dockyard/pkg/utils/cmp"
)

type ClusterType string

const (
	// ClusterTypeMock does nothing remotely. For tests and dry-runs.
	ClusterTypeMock ClusterType = "mock"

	// ClusterTypeFaulty fails selected operations. For tests.
	ClusterTypeFaulty ClusterType = "faulty"

	// ClusterTypeCoreOS submits systemd units to a fleet cluster.
	ClusterTypeCoreOS ClusterType = "coreos"

	// ClusterTypeKubernetes schedules workloads on a kubernetes cluster.
	ClusterTypeKubernetes ClusterType = "kubernetes"
)

func AsClusterType(s string) (ClusterType, error) {
	switch s {
	case string(ClusterTypeMock):
		return ClusterTypeMock, nil
	case string(ClusterTypeFaulty):
		return ClusterTypeFaulty, nil
	case string(ClusterTypeCoreOS):
		return ClusterTypeCoreOS, nil
	case string(ClusterTypeKubernetes):
		return ClusterTypeKubernetes, nil
	default:
		return "", fmt.Errorf("'%s' is not a cluster type", s)
	}
}

// Cluster is a set of machines that runs jobs.
type Cluster struct {
	Name   string
	Type   ClusterType
	Domain string

	// Hosts to contact the cluster through. Meaning depends on Type.
	Hosts []string

	// Auth material (e.g. base64-encoded ssh key). Meaning depends on Type.
	Auth string

	Options map[string]string
}

// App is an application serving requests on behalf of end-users.
type App struct {
	// Id is a slug matching [a-z0-9-]+ , unique across the platform.
	Id string

	Owner   string
	Cluster string

	// Structure maps process type to the desired number of containers.
	Structure map[string]int
}

func (a App) Equal(o App) bool {
	return a.Id == o.Id &&
		a.Owner == o.Owner &&
		a.Cluster == o.Cluster &&
		cmp.MapEq(a.Structure, o.Structure)
}

// Build is a software build produced by the build pipeline,
// or an externally supplied image.
type Build struct {
	Id    string
	Owner string

	// Image reference of the build.
	Image string

	// SourceRev is the source revision the build was made from.
	//
	// A Build with empty SourceRev is treated as an externally supplied
	// image rather than one produced by the build pipeline.
	SourceRev string

	// Procfile declares the process types the image can run.
	Procfile map[string]string

	// Dockerfile marks that a custom image-build file was used.
	Dockerfile bool

	CreatedAt time.Time
}

func (b Build) Equal(o Build) bool {
	return b.Id == o.Id &&
		b.Owner == o.Owner &&
		b.Image == o.Image &&
		b.SourceRev == o.SourceRev &&
		b.Dockerfile == o.Dockerfile &&
		cmp.MapEq(b.Procfile, o.Procfile)
}

// Config is a set of environment variables.
// Immutable once attached to a Release.
type Config struct {
	Id     string
	Owner  string
	Values map[string]string

	CreatedAt time.Time
}

func (c Config) Equal(o Config) bool {
	return c.Id == o.Id &&
		c.Owner == o.Owner &&
		cmp.MapEq(c.Values, o.Values)
}

// Limit is a set of per-process-type resource ceilings.
// Immutable once attached to a Release.
type Limit struct {
	Id    string
	Owner string

	// Memory maps process type to a memory ceiling (e.g. "512M").
	Memory map[string]string

	// CPU maps process type to a cpu ceiling (e.g. "512").
	CPU map[string]string

	CreatedAt time.Time
}

func (l Limit) Equal(o Limit) bool {
	return l.Id == o.Id &&
		l.Owner == o.Owner &&
		cmp.MapEq(l.Memory, o.Memory) &&
		cmp.MapEq(l.CPU, o.CPU)
}

// Release binds a Build, a Config and a Limit into one deployable image.
//
// Releases are immutable once created. Versions start at 1 per application
// and increase by one, with no gaps and no reuse.
type Release struct {
	AppId   string
	Version int
	Owner   string

	Build  Build
	Config Config
	Limit  Limit

	// Image is the composed, runnable image reference.
	Image string

	// Summary is a human readable description of what changed.
	Summary string

	CreatedAt time.Time
}

func (r Release) Equal(o Release) bool {
	return r.AppId == o.AppId &&
		r.Version == o.Version &&
		r.Owner == o.Owner &&
		r.Image == o.Image &&
		r.Summary == o.Summary &&
		r.Build.Equal(o.Build) &&
		r.Config.Equal(o.Config) &&
		r.Limit.Equal(o.Limit)
}

// Key is an SSH public key of a user.
type Key struct {
	Id     string
	Owner  string
	Public string
}

// DomainName is a custom domain routed to an application.
type DomainName struct {
	AppId  string
	Owner  string
	Domain string
}

var (
	// ErrValidation : a request named a process type the build does not declare.
	ErrValidation = errors.New("validation error")

	// ErrMissing : the entity is not found.
	ErrMissing = errors.New("missing entity")

	// ErrConflict : the entity violates a uniqueness constraint.
	ErrConflict = errors.New("conflicting entity")
)

func NewErrUnknownProcessType(ctype string) error {
	return fmt.Errorf("%w: container type %s does not exist in application", ErrValidation, ctype)
}
