package release_test

import (
	"context"
	"errors"
	"testing"

	"github.com/labstack/gommon/log"

	"github.com/dockyard-paas/dockyard/pkg/db"
	dbmock "github.com/dockyard-paas/dockyard/pkg/db/mock"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	regmock "github.com/dockyard-paas/dockyard/pkg/registry/mock"
	"github.com/dockyard-paas/dockyard/pkg/release"
	"github.com/dockyard-paas/dockyard/pkg/utils/try"
)

func quietLogger() *log.Logger {
	logger := log.New("test")
	logger.SetLevel(log.OFF)
	return logger
}

func newManager(store db.Store) (*release.Manager, *regmock.Client) {
	reg := regmock.New()
	return release.NewManager(store.Releases(), reg, "registry.local:5000", quietLogger()), reg
}

var app = domain.App{Id: "myapp", Owner: "alice", Cluster: "dev"}

func externalBuild(image string) *domain.Build {
	return &domain.Build{Id: "b1", Owner: "alice", Image: image}
}

func pipelineBuild(rev string) *domain.Build {
	return &domain.Build{
		Id: "b2", Owner: "bob", Image: "myapp:git-" + rev, SourceRev: rev,
		Procfile: map[string]string{"web": "node server.js"},
	}
}

func config(id string, owner string, values map[string]string) *domain.Config {
	return &domain.Config{Id: id, Owner: owner, Values: values}
}

func limit(id string, memory map[string]string) *domain.Limit {
	return &domain.Limit{Id: id, Owner: "carol", Memory: memory}
}

func TestManager_New(t *testing.T) {
	t.Run("it creates the initial release as v1", func(t *testing.T) {
		store := dbmock.New()
		m, reg := newManager(store)

		rel := try.To(m.New(context.Background(), release.Request{
			App: app, Owner: "alice",
			Build:  externalBuild("deis/example-go"),
			Config: config("c1", "alice", map[string]string{}),
			Limit:  limit("l1", map[string]string{}),
		})).OrFatal(t)

		if rel.Version != 1 {
			t.Errorf("version: got %d, want 1", rel.Version)
		}
		if rel.Image != "registry.local:5000/myapp" {
			t.Errorf("image: got %s", rel.Image)
		}
		if rel.Summary != "alice created the initial release" {
			t.Errorf("summary: got %q", rel.Summary)
		}

		if len(reg.Imports) != 1 || reg.Imports[0].Image != "deis/example-go" || reg.Imports[0].Repo != "myapp" {
			t.Errorf("imports: got %+v", reg.Imports)
		}
		if len(reg.Publishes) != 1 {
			t.Fatalf("publishes: got %+v", reg.Publishes)
		}
		pub := reg.Publishes[0]
		if pub.SourceImage != "myapp" || pub.TargetImage != "registry.local:5000/myapp" {
			t.Errorf("publish: got %+v", pub)
		}
	})

	t.Run("it preserves an explicit tag on imported images", func(t *testing.T) {
		store := dbmock.New()
		m, reg := newManager(store)

		try.To(m.New(context.Background(), release.Request{
			App: app, Owner: "alice",
			Build:  externalBuild("redis:2.8"),
			Config: config("c1", "alice", nil),
			Limit:  limit("l1", nil),
		})).OrFatal(t)

		if pub := reg.Publishes[0]; pub.SourceImage != "myapp:2.8" {
			t.Errorf("publish source: got %s, want myapp:2.8", pub.SourceImage)
		}
	})

	t.Run("it does not import pipeline builds", func(t *testing.T) {
		store := dbmock.New()
		m, reg := newManager(store)

		try.To(m.New(context.Background(), release.Request{
			App: app, Owner: "bob",
			Build:  pipelineBuild("0123456789abcdef"),
			Config: config("c1", "alice", nil),
			Limit:  limit("l1", nil),
		})).OrFatal(t)

		if len(reg.Imports) != 0 {
			t.Errorf("unexpected imports: %+v", reg.Imports)
		}
		if pub := reg.Publishes[0]; pub.SourceImage != "myapp:git-0123456789abcdef" {
			t.Errorf("publish source: got %s", pub.SourceImage)
		}
	})

	t.Run("it numbers versions gaplessly and defaults from the latest release", func(t *testing.T) {
		store := dbmock.New()
		m, _ := newManager(store)
		ctx := context.Background()

		try.To(m.New(ctx, release.Request{
			App: app, Owner: "alice",
			Build:  pipelineBuild("0123456789abcdef"),
			Config: config("c1", "alice", map[string]string{"FOO": "1"}),
			Limit:  limit("l1", nil),
		})).OrFatal(t)

		rel := try.To(m.New(ctx, release.Request{
			App: app, Owner: "bob",
			Config: config("c2", "bob", map[string]string{"FOO": "1", "BAR": "2"}),
		})).OrFatal(t)

		if rel.Version != 2 {
			t.Errorf("version: got %d, want 2", rel.Version)
		}
		if !rel.Build.Equal(*pipelineBuild("0123456789abcdef")) {
			t.Errorf("build not defaulted from previous release: %+v", rel.Build)
		}
		if rel.Summary != "bob added BAR" {
			t.Errorf("summary: got %q", rel.Summary)
		}
	})

	t.Run("it summarizes build changes with the short revision", func(t *testing.T) {
		store := dbmock.New()
		m, _ := newManager(store)
		ctx := context.Background()

		try.To(m.New(ctx, release.Request{
			App: app, Owner: "alice",
			Build:  pipelineBuild("0123456789abcdef"),
			Config: config("c1", "alice", nil),
			Limit:  limit("l1", nil),
		})).OrFatal(t)

		rel := try.To(m.New(ctx, release.Request{
			App: app, Owner: "bob", Build: pipelineBuild("fedcba9876543210"),
		})).OrFatal(t)

		if rel.Summary != "bob deployed fedcba9" {
			t.Errorf("summary: got %q", rel.Summary)
		}
	})

	t.Run("it summarizes config and limit diffs", func(t *testing.T) {
		store := dbmock.New()
		m, _ := newManager(store)
		ctx := context.Background()

		try.To(m.New(ctx, release.Request{
			App: app, Owner: "alice",
			Build:  pipelineBuild("0123456789abcdef"),
			Config: config("c1", "alice", map[string]string{"FOO": "1", "BAR": "2", "BAZ": "3"}),
			Limit:  limit("l1", map[string]string{"web": "512M"}),
		})).OrFatal(t)

		rel := try.To(m.New(ctx, release.Request{
			App: app, Owner: "bob",
			Config: config("c2", "bob", map[string]string{"FOO": "1", "BAR": "9", "QUX": "4"}),
		})).OrFatal(t)
		if rel.Summary != "bob added QUX, changed BAR, deleted BAZ" {
			t.Errorf("config summary: got %q", rel.Summary)
		}

		rel = try.To(m.New(ctx, release.Request{
			App: app, Owner: "carol",
			Limit: limit("l2", map[string]string{"web": "512M", "worker": "1G"}),
		})).OrFatal(t)
		if rel.Summary != "carol added limit for worker" {
			t.Errorf("limit summary: got %q", rel.Summary)
		}
	})

	t.Run("it says so when nothing changed", func(t *testing.T) {
		store := dbmock.New()
		m, _ := newManager(store)
		ctx := context.Background()

		try.To(m.New(ctx, release.Request{
			App: app, Owner: "alice",
			Build:  pipelineBuild("0123456789abcdef"),
			Config: config("c1", "alice", nil),
			Limit:  limit("l1", nil),
		})).OrFatal(t)

		rel := try.To(m.New(ctx, release.Request{App: app, Owner: "alice"})).OrFatal(t)
		if rel.Summary != "alice changed nothing" {
			t.Errorf("summary: got %q", rel.Summary)
		}
	})

	t.Run("it fails the release when publish fails, leaving the row behind", func(t *testing.T) {
		store := dbmock.New()
		reg := regmock.New()
		reg.PublishError = errors.New("registry gone")
		m := release.NewManager(store.Releases(), reg, "registry.local:5000", quietLogger())

		_, err := m.New(context.Background(), release.Request{
			App: app, Owner: "alice",
			Build:  pipelineBuild("0123456789abcdef"),
			Config: config("c1", "alice", nil),
			Limit:  limit("l1", nil),
		})
		if err == nil {
			t.Fatal("expected an error")
		}

		// the version is burned: the row stays, pointing at an image that
		// never got pushed.
		rows := try.To(store.Releases().List(context.Background(), "myapp")).OrFatal(t)
		if len(rows) != 1 || rows[0].Version != 1 {
			t.Errorf("rows: got %+v", rows)
		}
	})
}

func TestManager_Rollback(t *testing.T) {
	t.Run("it re-releases an older configuration as a new version", func(t *testing.T) {
		store := dbmock.New()
		m, _ := newManager(store)
		ctx := context.Background()

		try.To(m.New(ctx, release.Request{
			App: app, Owner: "alice",
			Build:  pipelineBuild("0123456789abcdef"),
			Config: config("c1", "alice", map[string]string{"FOO": "1"}),
			Limit:  limit("l1", nil),
		})).OrFatal(t)
		try.To(m.New(ctx, release.Request{
			App: app, Owner: "bob",
			Config: config("c2", "bob", map[string]string{"FOO": "2"}),
		})).OrFatal(t)

		rel := try.To(m.Rollback(ctx, app, "alice", 0)).OrFatal(t)

		if rel.Version != 3 {
			t.Errorf("version: got %d, want 3", rel.Version)
		}
		if rel.Summary != "alice rolled back to v1" {
			t.Errorf("summary: got %q", rel.Summary)
		}
		if rel.Config.Values["FOO"] != "1" {
			t.Errorf("config: got %v, want v1's values", rel.Config.Values)
		}
	})

	t.Run("it rejects rolling back past the first release", func(t *testing.T) {
		store := dbmock.New()
		m, _ := newManager(store)
		ctx := context.Background()

		try.To(m.New(ctx, release.Request{
			App: app, Owner: "alice",
			Build:  pipelineBuild("0123456789abcdef"),
			Config: config("c1", "alice", nil),
			Limit:  limit("l1", nil),
		})).OrFatal(t)

		_, err := m.Rollback(ctx, app, "alice", 0)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("got %v, want ErrValidation", err)
		}
	})
}
