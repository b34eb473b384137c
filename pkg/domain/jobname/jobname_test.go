package jobname_test

import (
	"testing"

	"github.com/dockyard-paas/dockyard/pkg/domain/jobname"
	"github.com/dockyard-paas/dockyard/pkg/utils/try"
)

func TestCompose(t *testing.T) {
	t.Run("it renders app, version, type and num", func(t *testing.T) {
		actual := jobname.Compose("myapp", 3, "web", 2)
		if actual != "myapp_v3.web.2" {
			t.Errorf("unexpected job name: %s", actual)
		}
	})

	t.Run("the reserved cmd type renders the same grammar", func(t *testing.T) {
		actual := jobname.Compose("myapp", 1, "cmd", 1)
		if actual != "myapp_v1.cmd.1" {
			t.Errorf("unexpected job name: %s", actual)
		}
	})
}

func TestParse(t *testing.T) {
	t.Run("it recovers the parts of a composed name", func(t *testing.T) {
		actual := try.To(jobname.Parse("myapp_v3.web.2")).OrFatal(t)

		expected := jobname.Name{App: "myapp", Version: "v3", Type: "web", Num: 2}
		if actual != expected {
			t.Errorf(
				"unexpected name\n===actual===\n%+v\n===expected===\n%+v",
				actual, expected,
			)
		}
		if actual.ReleaseVersion() != 3 {
			t.Errorf("unexpected release version: %d", actual.ReleaseVersion())
		}
	})

	t.Run("version and type are optional", func(t *testing.T) {
		actual := try.To(jobname.Parse("myapp.2")).OrFatal(t)

		expected := jobname.Name{App: "myapp", Num: 2}
		if actual != expected {
			t.Errorf(
				"unexpected name\n===actual===\n%+v\n===expected===\n%+v",
				actual, expected,
			)
		}
	})

	t.Run("it keeps dashes and digits in the app part", func(t *testing.T) {
		actual := try.To(jobname.Parse("my-app-42_v7.worker.11")).OrFatal(t)

		if actual.App != "my-app-42" {
			t.Errorf("unexpected app: %s", actual.App)
		}
		if actual.ReleaseVersion() != 7 {
			t.Errorf("unexpected version: %d", actual.ReleaseVersion())
		}
		if actual.Type != "worker" || actual.Num != 11 {
			t.Errorf("unexpected type/num: %s/%d", actual.Type, actual.Num)
		}
	})

	t.Run("it rejects names out of the grammar", func(t *testing.T) {
		for _, name := range []string{"", "MyApp_v1.web.1", "myapp_v1.web", "myapp_v1..1"} {
			if _, err := jobname.Parse(name); err == nil {
				t.Errorf("parse accepts %q", name)
			}
		}
	})

	t.Run("round-trip: Compose then Parse", func(t *testing.T) {
		name := jobname.Compose("steel", 12, "worker", 3)
		parsed := try.To(jobname.Parse(name)).OrFatal(t)
		if parsed.String() != name {
			t.Errorf("round trip broke the name: %s -> %s", name, parsed.String())
		}
	})
}
