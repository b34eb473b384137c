// Package keys holds the wire types of the ssh key API.
package keys

import (
	"github.com/dockyard-paas/dockyard/pkg/domain"
)

type Detail struct {
	Id          string `json:"id"`
	Owner       string `json:"owner"`
	Public      string `json:"public"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func ComposeDetail(key domain.Key, fingerprint string) Detail {
	return Detail{
		Id: key.Id, Owner: key.Owner, Public: key.Public, Fingerprint: fingerprint,
	}
}

type AddRequest struct {
	Id     string `json:"id"`
	Public string `json:"public"`
}
