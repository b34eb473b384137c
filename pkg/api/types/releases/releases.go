// Package releases holds the wire types of the release API.
package releases

import (
	"time"

	"github.com/dockyard-paas/dockyard/pkg/domain"
)

type Detail struct {
	Version   int       `json:"version"`
	Owner     string    `json:"owner"`
	Summary   string    `json:"summary"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"created_at"`

	Build  BuildDetail       `json:"build"`
	Config map[string]string `json:"config"`

	MemoryLimits map[string]string `json:"memory_limits,omitempty"`
	CPULimits    map[string]string `json:"cpu_limits,omitempty"`
}

type BuildDetail struct {
	Image      string            `json:"image"`
	SourceRev  string            `json:"source_rev,omitempty"`
	Procfile   map[string]string `json:"procfile,omitempty"`
	Dockerfile bool              `json:"dockerfile,omitempty"`
}

func ComposeDetail(rel domain.Release) Detail {
	return Detail{
		Version: rel.Version, Owner: rel.Owner, Summary: rel.Summary,
		Image: rel.Image, CreatedAt: rel.CreatedAt,
		Build: BuildDetail{
			Image:      rel.Build.Image,
			SourceRev:  rel.Build.SourceRev,
			Procfile:   rel.Build.Procfile,
			Dockerfile: rel.Build.Dockerfile,
		},
		Config:       rel.Config.Values,
		MemoryLimits: rel.Limit.Memory,
		CPULimits:    rel.Limit.CPU,
	}
}

// DeployRequest describes a new release. Omitted build/config/limit
// sections default to the values of the latest release.
type DeployRequest struct {
	Build  *BuildRequest  `json:"build,omitempty"`
	Config *ConfigRequest `json:"config,omitempty"`
	Limit  *LimitRequest  `json:"limit,omitempty"`

	Summary string `json:"summary,omitempty"`
}

type BuildRequest struct {
	Image      string            `json:"image"`
	SourceRev  string            `json:"source_rev,omitempty"`
	Procfile   map[string]string `json:"procfile,omitempty"`
	Dockerfile bool              `json:"dockerfile,omitempty"`
}

type ConfigRequest struct {
	Values map[string]string `json:"values"`
}

type LimitRequest struct {
	Memory map[string]string `json:"memory,omitempty"`
	CPU    map[string]string `json:"cpu,omitempty"`
}

type RollbackRequest struct {
	// Version to roll back to. Zero targets the release before the
	// latest one.
	Version int `json:"version,omitempty"`
}
