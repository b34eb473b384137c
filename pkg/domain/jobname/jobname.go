// Package jobname composes and parses job identities.
//
// A job identity names the remote execution units of one container:
//
//	{app}[_v{version}].{type}.{num}
//
// for example "myapp_v3.web.2".
package jobname

import (
	"fmt"
	"regexp"
	"strconv"
)

// version and type are optional: "myapp_v3.web.2", "myapp.2" are both names.
var pattern = regexp.MustCompile(
	`^(?P<app>[a-z0-9-]+?)(?:_(?P<version>v[0-9]+))?(?:\.(?P<type>[a-z]+))?\.(?P<num>[0-9]+)$`,
)

// Name is a parsed job identity.
type Name struct {
	App string

	// Version of the release, e.g. "v3".
	Version string

	// Type of the process, e.g. "web".
	Type string

	Num int
}

// ReleaseVersion is the numeric part of Version.
func (n Name) ReleaseVersion() int {
	if n.Version == "" {
		return 0
	}
	v, _ := strconv.Atoi(n.Version[1:])
	return v
}

func (n Name) String() string {
	return Compose(n.App, n.ReleaseVersion(), n.Type, n.Num)
}

// Compose builds the job identity of a container.
func Compose(app string, version int, ctype string, num int) string {
	return fmt.Sprintf("%s_v%d.%s.%d", app, version, ctype, num)
}

// Parse recovers the parts of a job identity.
func Parse(name string) (Name, error) {
	m := pattern.FindStringSubmatch(name)
	if m == nil {
		return Name{}, fmt.Errorf("'%s' is not a job name", name)
	}

	num, err := strconv.Atoi(m[pattern.SubexpIndex("num")])
	if err != nil {
		return Name{}, fmt.Errorf("'%s' is not a job name: %w", name, err)
	}

	return Name{
		App:     m[pattern.SubexpIndex("app")],
		Version: m[pattern.SubexpIndex("version")],
		Type:    m[pattern.SubexpIndex("type")],
		Num:     num,
	}, nil
}
