package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/dockyard-paas/dockyard/cmd/dockyardd/handlers"
	httptestutil "github.com/dockyard-paas/dockyard/internal/testutils/http"
	apireleases "github.com/dockyard-paas/dockyard/pkg/api/types/releases"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	"github.com/dockyard-paas/dockyard/pkg/release"
	"github.com/dockyard-paas/dockyard/pkg/utils/try"
)

func TestDeployHandler(t *testing.T) {
	t.Run("it creates release v1 and brings up the inferred structure", func(t *testing.T) {
		f := setup(t)
		c, resp := httptestutil.Post(
			f.e, "/api/apps/myapp/releases",
			strings.NewReader(`{
				"build": {
					"image": "myapp:git-0123456",
					"source_rev": "0123456789abcdef",
					"procfile": {"web": "node server.js"}
				}
			}`),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/apps/:id/releases")
		c.SetParamNames("id")
		c.SetParamValues("myapp")
		asUser(c, "alice")

		testee := handlers.DeployHandler(f.orc, f.store.Apps(), "id")
		try.OrFatal(t, testee(c))

		if resp.Code != http.StatusCreated {
			t.Errorf("status: got %d, want 201", resp.Code)
		}
		detail := apireleases.Detail{}
		try.OrFatal(t, json.Unmarshal(resp.Body.Bytes(), &detail))
		if detail.Version != 1 {
			t.Errorf("version: got %d, want 1", detail.Version)
		}
		if detail.Summary != "alice created the initial release" {
			t.Errorf("summary: got %q", detail.Summary)
		}
		if detail.Image != "registry.local:5000/myapp" {
			t.Errorf("image: got %q", detail.Image)
		}

		started := f.backend.Names("start")
		if len(started) != 1 || started[0] != "myapp_v1.web.1" {
			t.Errorf("started jobs: got %v", started)
		}
	})

	t.Run("it rejects a build without an image", func(t *testing.T) {
		f := setup(t)
		c, _ := httptestutil.Post(
			f.e, "/api/apps/myapp/releases",
			strings.NewReader(`{"build": {"procfile": {"web": "node server.js"}}}`),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/apps/:id/releases")
		c.SetParamNames("id")
		c.SetParamValues("myapp")
		asUser(c, "alice")

		err := handlers.DeployHandler(f.orc, f.store.Apps(), "id")(c)
		if code := httpCode(t, err); code != http.StatusBadRequest {
			t.Errorf("status: got %d, want 400", code)
		}
	})

	t.Run("it rejects a first deploy carrying no build at all", func(t *testing.T) {
		f := setup(t)
		c, _ := httptestutil.Post(
			f.e, "/api/apps/myapp/releases",
			strings.NewReader(`{"config": {"values": {"FOO": "bar"}}}`),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/apps/:id/releases")
		c.SetParamNames("id")
		c.SetParamValues("myapp")
		asUser(c, "alice")

		err := handlers.DeployHandler(f.orc, f.store.Apps(), "id")(c)
		if code := httpCode(t, err); code != http.StatusBadRequest {
			t.Errorf("status: got %d, want 400", code)
		}
	})

	t.Run("it rolls live containers onto a config-only release", func(t *testing.T) {
		f := setup(t)
		f.deploy(t, release.Request{Build: webBuild()})

		c, resp := httptestutil.Post(
			f.e, "/api/apps/myapp/releases",
			strings.NewReader(`{"config": {"values": {"FOO": "bar"}}}`),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/apps/:id/releases")
		c.SetParamNames("id")
		c.SetParamValues("myapp")
		asUser(c, "bob")

		testee := handlers.DeployHandler(f.orc, f.store.Apps(), "id")
		try.OrFatal(t, testee(c))

		if resp.Code != http.StatusCreated {
			t.Errorf("status: got %d, want 201", resp.Code)
		}
		detail := apireleases.Detail{}
		try.OrFatal(t, json.Unmarshal(resp.Body.Bytes(), &detail))
		if detail.Version != 2 {
			t.Errorf("version: got %d, want 2", detail.Version)
		}
		if detail.Summary != "bob added FOO" {
			t.Errorf("summary: got %q", detail.Summary)
		}

		created := f.backend.Names("create")
		if len(created) != 2 || created[1] != "myapp_v2.web.1" {
			t.Errorf("created jobs: got %v", created)
		}
		destroyed := f.backend.Names("destroy")
		if len(destroyed) != 1 || destroyed[0] != "myapp_v1.web.1" {
			t.Errorf("destroyed jobs: got %v", destroyed)
		}
	})
}

func TestGetReleaseHandler(t *testing.T) {
	t.Run("it rejects a non-numeric version", func(t *testing.T) {
		f := setup(t)
		c, _ := httptestutil.Get(f.e, "/api/apps/myapp/releases/latest")
		c.SetPath("/api/apps/:id/releases/:version")
		c.SetParamNames("id", "version")
		c.SetParamValues("myapp", "latest")

		err := handlers.GetReleaseHandler(f.store.Releases(), "id", "version")(c)
		if code := httpCode(t, err); code != http.StatusBadRequest {
			t.Errorf("status: got %d, want 400", code)
		}
	})

	t.Run("it returns 404 for a version never created", func(t *testing.T) {
		f := setup(t)
		f.deploy(t, release.Request{Build: webBuild()})

		c, _ := httptestutil.Get(f.e, "/api/apps/myapp/releases/9")
		c.SetPath("/api/apps/:id/releases/:version")
		c.SetParamNames("id", "version")
		c.SetParamValues("myapp", "9")

		err := handlers.GetReleaseHandler(f.store.Releases(), "id", "version")(c)
		if code := httpCode(t, err); code != http.StatusNotFound {
			t.Errorf("status: got %d, want 404", code)
		}
	})
}

func TestRollbackHandler(t *testing.T) {
	t.Run("it creates a new version carrying the old payload and rolls it out", func(t *testing.T) {
		f := setup(t)
		f.deploy(t, release.Request{Build: webBuild()})
		f.deploy(t, release.Request{
			Config: &domain.Config{Owner: "alice", Values: map[string]string{"FOO": "bar"}},
		})

		c, resp := httptestutil.Post(
			f.e, "/api/apps/myapp/rollback",
			strings.NewReader(`{"version": 1}`),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/apps/:id/rollback")
		c.SetParamNames("id")
		c.SetParamValues("myapp")
		asUser(c, "carol")

		testee := handlers.RollbackHandler(f.rm, f.orc, f.store.Apps(), "id")
		try.OrFatal(t, testee(c))

		if resp.Code != http.StatusCreated {
			t.Errorf("status: got %d, want 201", resp.Code)
		}
		detail := apireleases.Detail{}
		try.OrFatal(t, json.Unmarshal(resp.Body.Bytes(), &detail))
		if detail.Version != 3 {
			t.Errorf("version: got %d, want 3", detail.Version)
		}
		if detail.Summary != "carol rolled back to v1" {
			t.Errorf("summary: got %q", detail.Summary)
		}
		if len(detail.Config) != 0 {
			t.Errorf("config should match v1 (empty), got %+v", detail.Config)
		}

		live := try.To(f.store.Containers().List(context.Background(), "myapp")).OrFatal(t)
		for _, cont := range live {
			if cont.ReleaseVersion != 3 {
				t.Errorf("container %s still on v%d", cont, cont.ReleaseVersion)
			}
		}
	})

	t.Run("it refuses to roll back past the first release", func(t *testing.T) {
		f := setup(t)
		f.deploy(t, release.Request{Build: webBuild()})

		c, _ := httptestutil.Post(
			f.e, "/api/apps/myapp/rollback",
			strings.NewReader(`{}`),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/apps/:id/rollback")
		c.SetParamNames("id")
		c.SetParamValues("myapp")
		asUser(c, "carol")

		err := handlers.RollbackHandler(f.rm, f.orc, f.store.Apps(), "id")(c)
		if code := httpCode(t, err); code != http.StatusBadRequest {
			t.Errorf("status: got %d, want 400", code)
		}
	})
}
