// Package discovery declares the coordination store used for service
// discovery.
//
// Collaborators (routers, builders, announcer units) read and write the
// paths below; the control plane must stay compatible with them:
//
//   - /deis/services/{app}/{jobName} : "{host}:{port}" of one container,
//     refreshed with a TTL by its announcer unit.
//   - /deis/domains/{app} : whitespace-joined custom domain list.
//   - /deis/builder/users/{owner}/{fingerprint} : user's public key.
package discovery

import (
	"context"
	"fmt"
	"time"
)

// Store is a constructed, injected coordination-store client.
//
// When the store is unavailable, use Unavailable() instead of a nil Store.
type Store interface {
	Set(ctx context.Context, key string, value string) error
	SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error

	// DeleteTree removes a key and everything below it.
	DeleteTree(ctx context.Context, prefix string) error
}

func ServicesPath(app string) string {
	return fmt.Sprintf("/deis/services/%s", app)
}

func ServicePath(app string, jobName string) string {
	return fmt.Sprintf("/deis/services/%s/%s", app, jobName)
}

func DomainsPath(app string) string {
	return fmt.Sprintf("/deis/domains/%s", app)
}

func BuilderKeyPath(owner string, fingerprint string) string {
	return fmt.Sprintf("/deis/builder/users/%s/%s", owner, fingerprint)
}

func BuilderUserPath(owner string) string {
	return fmt.Sprintf("/deis/builder/users/%s", owner)
}

type unavailable struct{}

// Unavailable is a Store doing nothing.
//
// It stands in when no coordination store is configured or reachable,
// so that call sites need no nil checks.
func Unavailable() Store {
	return unavailable{}
}

func (unavailable) Set(context.Context, string, string) error { return nil }

func (unavailable) SetWithTTL(context.Context, string, string, time.Duration) error {
	return nil
}

func (unavailable) Get(ctx context.Context, key string) (string, error) {
	return "", fmt.Errorf("discovery store is unavailable: no value for %s", key)
}

func (unavailable) Delete(context.Context, string) error     { return nil }
func (unavailable) DeleteTree(context.Context, string) error { return nil }
