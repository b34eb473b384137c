package configs_test

import (
	"testing"

	"github.com/dockyard-paas/dockyard/pkg/configs"
	"github.com/dockyard-paas/dockyard/pkg/utils/cmp"
)

func TestLoadDockyardConfig(t *testing.T) {
	t.Run("it can be created from a config file", func(t *testing.T) {
		result, err := configs.LoadDockyardConfig("./testdata/config.yaml")
		if err != nil {
			t.Fatalf("failed to parse config: %v", err)
		}

		if result.DBURI != "postgres://dockyard-pgdb-svc:5432/dockyard" {
			t.Errorf("unmatch database: %s", result.DBURI)
		}
		if result.ServerPort != "8000" {
			t.Errorf("unmatch port: %s", result.ServerPort)
		}
		if result.Loglevel != "debug" {
			t.Errorf("unmatch loglevel: %s", result.Loglevel)
		}
		if result.Registry.Host != "registry.local" || result.Registry.Port != 5000 {
			t.Errorf("unmatch registry: %+v", result.Registry)
		}
		if !cmp.SliceEq(result.Discovery.Endpoints, []string{"http://etcd-0:2379", "http://etcd-1:2379"}) {
			t.Errorf("unmatch discovery endpoints: %v", result.Discovery.Endpoints)
		}
		if result.Discovery.DialTimeoutSeconds != 5 {
			t.Errorf("unmatch discovery dial timeout: %d", result.Discovery.DialTimeoutSeconds)
		}

		if len(result.Clusters) != 2 {
			t.Fatalf("unmatch clusters: %+v", result.Clusters)
		}
		prod := result.Clusters[1]
		if prod.Name != "prod" || prod.Type != "coreos" {
			t.Errorf("unmatch cluster: %+v", prod)
		}
		if !cmp.SliceEq(prod.Hosts, []string{"198.51.100.7", "198.51.100.8"}) {
			t.Errorf("unmatch cluster hosts: %v", prod.Hosts)
		}
		if prod.Options["workdir"] != "/var/lib/dockyard" {
			t.Errorf("unmatch cluster options: %v", prod.Options)
		}
	})

	t.Run("it falls back to defaults for empty files", func(t *testing.T) {
		result, err := configs.Unmarshal([]byte(""))
		if err != nil {
			t.Fatal(err)
		}
		if result.ServerPort != "8000" || result.Loglevel != "info" {
			t.Errorf("defaults: got %+v", result)
		}
	})
}
