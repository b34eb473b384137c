// Package registry maps cluster types to scheduler backend constructors.
//
// The mapping is a closed set. Backends are compiled in and chosen by
// domain.ClusterType; there is no dynamic lookup by module name.
package registry

import (
	"fmt"
	"os"

	"github.com/labstack/gommon/log"

	"github.com/dockyard-paas/dockyard/pkg/domain"
	"github.com/dockyard-paas/dockyard/pkg/schedule"
	"github.com/dockyard-paas/dockyard/pkg/schedule/coreos"
	"github.com/dockyard-paas/dockyard/pkg/schedule/faulty"
	"github.com/dockyard-paas/dockyard/pkg/schedule/k8s"
	"github.com/dockyard-paas/dockyard/pkg/schedule/mock"
)

// New builds the scheduler backend for the cluster.
//
// Unknown cluster types fail; domain.AsClusterType is the only gate new
// types come in through.
func New(cluster domain.Cluster, logger *log.Logger) (schedule.Backend, error) {
	switch cluster.Type {
	case domain.ClusterTypeMock:
		return mock.New(), nil

	case domain.ClusterTypeFaulty:
		failures := []string{}
		for _, verb := range []string{"create", "start", "stop", "destroy", "run"} {
			if cluster.Options["fail-"+verb] == "true" {
				failures = append(failures, verb)
			}
		}
		return faulty.New(mock.New(), failures...), nil

	case domain.ClusterTypeCoreOS:
		dir := cluster.Options["workdir"]
		if dir == "" {
			dir = os.TempDir()
		}
		return coreos.New(cluster.Name, cluster.Hosts, cluster.Auth, dir, coreos.NewRunner(), logger)

	case domain.ClusterTypeKubernetes:
		return k8s.New(cluster.Auth, cluster.Options["namespace"], logger)

	default:
		return nil, fmt.Errorf("no scheduler backend for cluster type '%s'", cluster.Type)
	}
}
