package app_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/labstack/gommon/log"

	"github.com/dockyard-paas/dockyard/pkg/app"
	"github.com/dockyard-paas/dockyard/pkg/db"
	dbmock "github.com/dockyard-paas/dockyard/pkg/db/mock"
	discmock "github.com/dockyard-paas/dockyard/pkg/discovery/mock"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	regmock "github.com/dockyard-paas/dockyard/pkg/registry/mock"
	"github.com/dockyard-paas/dockyard/pkg/release"
	"github.com/dockyard-paas/dockyard/pkg/schedule"
	schedmock "github.com/dockyard-paas/dockyard/pkg/schedule/mock"
	"github.com/dockyard-paas/dockyard/pkg/utils/cmp"
	"github.com/dockyard-paas/dockyard/pkg/utils/try"
)

type fixture struct {
	store     db.Store
	backend   *schedmock.Backend
	discovery *discmock.Store
	orc       *app.Orchestrator
	app       domain.App
}

func quietLogger() *log.Logger {
	logger := log.New("test")
	logger.SetLevel(log.OFF)
	return logger
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := dbmock.New()
	backend := schedmock.New()
	disc := discmock.New()
	releases := release.NewManager(store.Releases(), regmock.New(), "registry.local:5000", quietLogger())
	orc := app.New(store, releases, disc, quietLogger()).
		WithBackends(func(domain.Cluster, *log.Logger) (schedule.Backend, error) {
			return backend, nil
		})

	try.OrFatal(t, store.Clusters().Register(ctx, domain.Cluster{
		Name: "dev", Type: domain.ClusterTypeMock, Domain: "dev.local",
	}))
	a := try.To(orc.Create(ctx, domain.App{
		Id: "myapp", Owner: "alice", Cluster: "dev",
	})).OrFatal(t)

	return &fixture{store: store, backend: backend, discovery: disc, orc: orc, app: a}
}

// deployed seeds release v1 with a declared process table and records it as
// the app's current release, without going through Deploy.
func (f *fixture) deployed(t *testing.T) domain.Release {
	t.Helper()
	rel := domain.Release{
		AppId: "myapp", Version: 1, Owner: "alice",
		Build: domain.Build{
			Id: "b1", Owner: "alice", Image: "myapp:git-0123456",
			SourceRev: "0123456789abcdef",
			Procfile:  map[string]string{"web": "node server.js", "worker": "node worker.js"},
		},
		Image: "registry.local:5000/myapp",
	}
	try.OrFatal(t, f.store.Releases().New(context.Background(), rel))
	return rel
}

func (f *fixture) liveStates(t *testing.T) map[string]domain.ContainerState {
	t.Helper()
	states := map[string]domain.ContainerState{}
	for _, c := range try.To(f.store.Containers().List(context.Background(), "myapp")).OrFatal(t) {
		states[c.String()] = c.State
	}
	return states
}

func TestScale(t *testing.T) {
	t.Run("it creates and starts the requested containers", func(t *testing.T) {
		f := setup(t)
		f.deployed(t)

		changed := try.To(f.orc.Scale(
			context.Background(), f.app, map[string]int{"web": 2, "worker": 1},
		)).OrFatal(t)
		if !changed {
			t.Error("changed: got false")
		}

		created := f.backend.Names("create")
		sort.Strings(created)
		want := []string{"myapp_v1.web.1", "myapp_v1.web.2", "myapp_v1.worker.1"}
		if !cmp.SliceEq(created, want) {
			t.Errorf("created: got %v, want %v", created, want)
		}

		states := f.liveStates(t)
		for _, name := range []string{"myapp.web.1", "myapp.web.2", "myapp.worker.1"} {
			if states[name] != domain.Up {
				t.Errorf("%s: got %s, want up", name, states[name])
			}
		}

		got := try.To(f.store.Apps().Get(context.Background(), "myapp")).OrFatal(t)
		if !cmp.MapEq(got.Structure, map[string]int{"web": 2, "worker": 1}) {
			t.Errorf("structure: got %v", got.Structure)
		}
	})

	t.Run("it tears down the newest containers first and leaves other types alone", func(t *testing.T) {
		f := setup(t)
		f.deployed(t)
		ctx := context.Background()

		try.To(f.orc.Scale(ctx, f.app, map[string]int{"web": 3, "worker": 1})).OrFatal(t)
		try.To(f.orc.Scale(ctx, f.app, map[string]int{"web": 1})).OrFatal(t)

		destroyed := f.backend.Names("destroy")
		sort.Strings(destroyed)
		want := []string{"myapp_v1.web.2", "myapp_v1.web.3"}
		if !cmp.SliceEq(destroyed, want) {
			t.Errorf("destroyed: got %v, want %v", destroyed, want)
		}

		states := f.liveStates(t)
		if states["myapp.web.1"] != domain.Up {
			t.Error("the oldest web container should survive")
		}
		if states["myapp.worker.1"] != domain.Up {
			t.Error("worker was not named in the request and must be untouched")
		}
	})

	t.Run("it never reuses nums", func(t *testing.T) {
		f := setup(t)
		f.deployed(t)
		ctx := context.Background()

		try.To(f.orc.Scale(ctx, f.app, map[string]int{"web": 2})).OrFatal(t)
		try.To(f.orc.Scale(ctx, f.app, map[string]int{"web": 1})).OrFatal(t)
		try.To(f.orc.Scale(ctx, f.app, map[string]int{"web": 2})).OrFatal(t)

		states := f.liveStates(t)
		if _, ok := states["myapp.web.2"]; ok {
			t.Error("num 2 was reused after destruction")
		}
		if states["myapp.web.3"] != domain.Up {
			t.Errorf("expected myapp.web.3, have %v", states)
		}
	})

	t.Run("it rejects types the build does not declare", func(t *testing.T) {
		f := setup(t)
		f.deployed(t)

		_, err := f.orc.Scale(context.Background(), f.app, map[string]int{"bogus": 1})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("got %v, want ErrValidation", err)
		}
		if len(f.backend.Ops) != 0 {
			t.Errorf("remote effects despite validation error: %v", f.backend.Ops)
		}
	})

	t.Run("it always accepts the reserved cmd type", func(t *testing.T) {
		f := setup(t)
		f.deployed(t)

		changed := try.To(f.orc.Scale(
			context.Background(), f.app, map[string]int{"cmd": 1},
		)).OrFatal(t)
		if !changed {
			t.Error("changed: got false")
		}
	})

	t.Run("it reports no change when counts already match", func(t *testing.T) {
		f := setup(t)
		f.deployed(t)
		ctx := context.Background()

		try.To(f.orc.Scale(ctx, f.app, map[string]int{"web": 1})).OrFatal(t)
		changed := try.To(f.orc.Scale(ctx, f.app, map[string]int{"web": 1})).OrFatal(t)
		if changed {
			t.Error("changed: got true, want false")
		}
	})
}

func TestDeploy(t *testing.T) {
	t.Run("it infers cmd=1 for opaque images on first deploy", func(t *testing.T) {
		f := setup(t)

		rel := try.To(f.orc.Deploy(context.Background(), f.app, release.Request{
			Owner:  "alice",
			Build:  &domain.Build{Id: "b1", Owner: "alice", Image: "deis/example-go"},
			Config: &domain.Config{Id: "c1", Owner: "alice"},
			Limit:  &domain.Limit{Id: "l1", Owner: "alice"},
		})).OrFatal(t)

		if rel.Version != 1 {
			t.Errorf("version: got %d, want 1", rel.Version)
		}
		got := try.To(f.store.Apps().Get(context.Background(), "myapp")).OrFatal(t)
		if !cmp.MapEq(got.Structure, map[string]int{"cmd": 1}) {
			t.Errorf("structure: got %v, want cmd=1", got.Structure)
		}
		if names := f.backend.Names("create"); !cmp.SliceEq(names, []string{"myapp_v1.cmd.1"}) {
			t.Errorf("created: got %v", names)
		}
	})

	t.Run("it infers web=1 when the procfile declares web", func(t *testing.T) {
		f := setup(t)

		try.To(f.orc.Deploy(context.Background(), f.app, release.Request{
			Owner: "alice",
			Build: &domain.Build{
				Id: "b1", Owner: "alice", Image: "myapp:git-0123456",
				SourceRev: "0123456789abcdef",
				Procfile:  map[string]string{"web": "node server.js"},
			},
			Config: &domain.Config{Id: "c1", Owner: "alice"},
			Limit:  &domain.Limit{Id: "l1", Owner: "alice"},
		})).OrFatal(t)

		got := try.To(f.store.Apps().Get(context.Background(), "myapp")).OrFatal(t)
		if !cmp.MapEq(got.Structure, map[string]int{"web": 1}) {
			t.Errorf("structure: got %v, want web=1", got.Structure)
		}
	})

	t.Run("it rolls every live container onto the new release", func(t *testing.T) {
		f := setup(t)
		f.deployed(t)
		ctx := context.Background()

		try.To(f.orc.Scale(ctx, f.app, map[string]int{"web": 2})).OrFatal(t)

		rel := try.To(f.orc.Deploy(ctx, f.app, release.Request{
			Owner: "bob",
			Build: &domain.Build{
				Id: "b2", Owner: "bob", Image: "myapp:git-fedcba9",
				SourceRev: "fedcba9876543210",
				Procfile:  map[string]string{"web": "node server.js", "worker": "node worker.js"},
			},
		})).OrFatal(t)
		if rel.Version != 2 {
			t.Fatalf("version: got %d, want 2", rel.Version)
		}

		created := f.backend.Names("create")
		sort.Strings(created)
		wantCreated := []string{
			"myapp_v1.web.1", "myapp_v1.web.2",
			"myapp_v2.web.1", "myapp_v2.web.2",
		}
		if !cmp.SliceEq(created, wantCreated) {
			t.Errorf("created: got %v, want %v", created, wantCreated)
		}

		destroyed := f.backend.Names("destroy")
		sort.Strings(destroyed)
		wantDestroyed := []string{"myapp_v1.web.1", "myapp_v1.web.2"}
		if !cmp.SliceEq(destroyed, wantDestroyed) {
			t.Errorf("destroyed: got %v, want %v", destroyed, wantDestroyed)
		}

		for _, c := range try.To(f.store.Containers().List(ctx, "myapp")).OrFatal(t) {
			if c.ReleaseVersion != 2 {
				t.Errorf("%s: still on v%d", c, c.ReleaseVersion)
			}
		}
	})
}

func TestRun(t *testing.T) {
	t.Run("it runs one-off commands under the admin type", func(t *testing.T) {
		f := setup(t)
		f.deployed(t)
		f.backend.RunExitCode = 1
		f.backend.RunOutput = []byte("oops\n")

		code, out, err := f.orc.Run(context.Background(), f.app, "rake db:migrate")
		if err != nil {
			t.Fatal(err)
		}
		if code != 1 || string(out) != "oops\n" {
			t.Errorf("got (%d, %q)", code, out)
		}

		if names := f.backend.Names("run"); !cmp.SliceEq(names, []string{"myapp_v1.admin.1"}) {
			t.Errorf("run jobs: got %v", names)
		}
		// one-off containers do not persist
		if live := f.liveStates(t); len(live) != 0 {
			t.Errorf("live containers after run: %v", live)
		}
	})

	t.Run("it refuses before the first deploy", func(t *testing.T) {
		f := setup(t)
		_, _, err := f.orc.Run(context.Background(), f.app, "ls")
		if !errors.Is(err, domain.ErrMissing) {
			t.Errorf("got %v, want ErrMissing", err)
		}
	})
}

func TestDestroy(t *testing.T) {
	t.Run("it removes containers, rows and discovery entries", func(t *testing.T) {
		f := setup(t)
		f.deployed(t)
		ctx := context.Background()

		try.To(f.orc.Scale(ctx, f.app, map[string]int{"web": 2})).OrFatal(t)
		f.discovery.Values["/deis/services/myapp/myapp_v1.web.1"] = "10.0.0.1:49153"

		try.OrFatal(t, f.orc.Destroy(ctx, f.app))

		destroyed := f.backend.Names("destroy")
		sort.Strings(destroyed)
		if !cmp.SliceEq(destroyed, []string{"myapp_v1.web.1", "myapp_v1.web.2"}) {
			t.Errorf("destroyed: got %v", destroyed)
		}

		if _, err := f.store.Apps().Get(ctx, "myapp"); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("app row: got %v, want ErrMissing", err)
		}
		rows := try.To(f.store.Releases().List(ctx, "myapp")).OrFatal(t)
		if len(rows) != 0 {
			t.Errorf("release rows remain: %v", rows)
		}
		if _, ok := f.discovery.Values["/deis/services/myapp/myapp_v1.web.1"]; ok {
			t.Error("stale discovery entry remains")
		}
	})
}

func TestDomains(t *testing.T) {
	t.Run("it publishes the domain list to the coordination store", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()

		try.OrFatal(t, f.orc.AddDomain(ctx, domain.DomainName{
			AppId: "myapp", Owner: "alice", Domain: "example.com",
		}))
		try.OrFatal(t, f.orc.AddDomain(ctx, domain.DomainName{
			AppId: "myapp", Owner: "alice", Domain: "www.example.com",
		}))

		if got := f.discovery.Values["/deis/domains/myapp"]; got != "example.com www.example.com" {
			t.Errorf("published domains: got %q", got)
		}

		try.OrFatal(t, f.orc.RemoveDomain(ctx, "example.com"))
		if got := f.discovery.Values["/deis/domains/myapp"]; got != "www.example.com" {
			t.Errorf("published domains: got %q", got)
		}

		try.OrFatal(t, f.orc.RemoveDomain(ctx, "www.example.com"))
		if _, ok := f.discovery.Values["/deis/domains/myapp"]; ok {
			t.Error("empty domain list should be deleted")
		}
	})
}
