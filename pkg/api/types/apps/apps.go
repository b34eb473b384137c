// Package apps holds the wire types of the application API.
package apps

import (
	"github.com/dockyard-paas/dockyard/pkg/domain"
)

type Detail struct {
	Id        string         `json:"id"`
	Owner     string         `json:"owner"`
	Cluster   string         `json:"cluster"`
	Structure map[string]int `json:"structure"`
}

func ComposeDetail(app domain.App) Detail {
	return Detail{
		Id: app.Id, Owner: app.Owner, Cluster: app.Cluster, Structure: app.Structure,
	}
}

type CreateRequest struct {
	Id      string `json:"id"`
	Cluster string `json:"cluster"`
}

// ScaleRequest maps process type to desired container count.
// Types not named are left untouched.
type ScaleRequest map[string]int

type RunRequest struct {
	Command string `json:"command"`
}

type RunResponse struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

type DomainRequest struct {
	Domain string `json:"domain"`
}

type DomainDetail struct {
	AppId  string `json:"app"`
	Owner  string `json:"owner"`
	Domain string `json:"domain"`
}

func ComposeDomainDetail(d domain.DomainName) DomainDetail {
	return DomainDetail{AppId: d.AppId, Owner: d.Owner, Domain: d.Domain}
}

type ContainerDetail struct {
	Id             string `json:"id"`
	Type           string `json:"type"`
	Num            int    `json:"num"`
	ReleaseVersion int    `json:"release_version"`
	State          string `json:"state"`
}

func ComposeContainerDetail(c domain.Container) ContainerDetail {
	return ContainerDetail{
		Id: c.Id, Type: c.Type, Num: c.Num,
		ReleaseVersion: c.ReleaseVersion, State: c.State.String(),
	}
}
