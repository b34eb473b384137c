// Package mock is an in-memory implementation of the entity store.
//
// It is used by tests, and by deployments which do not need durability.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dockyard-paas/dockyard/pkg/db"
	"github.com/dockyard-paas/dockyard/pkg/domain"
)

type store struct {
	mu sync.Mutex

	serial     int
	clusters   map[string]domain.Cluster
	apps       map[string]domain.App
	releases   map[string][]domain.Release
	containers map[string]domain.Container
	keys       map[string]domain.Key
	domains    map[string]domain.DomainName
}

func New() db.Store {
	return &store{
		clusters:   map[string]domain.Cluster{},
		apps:       map[string]domain.App{},
		releases:   map[string][]domain.Release{},
		containers: map[string]domain.Container{},
		keys:       map[string]domain.Key{},
		domains:    map[string]domain.DomainName{},
	}
}

func (s *store) Clusters() db.ClusterInterface     { return (*clusters)(s) }
func (s *store) Apps() db.AppInterface             { return (*apps)(s) }
func (s *store) Releases() db.ReleaseInterface     { return (*releases)(s) }
func (s *store) Containers() db.ContainerInterface { return (*containers)(s) }
func (s *store) Keys() db.KeyInterface             { return (*keys)(s) }
func (s *store) Domains() db.DomainInterface       { return (*domains)(s) }

func (s *store) Close() error { return nil }

// nextId is called with s.mu held.
func (s *store) nextId(prefix string) string {
	s.serial += 1
	return fmt.Sprintf("%s-%d", prefix, s.serial)
}

// tick is called with s.mu held.
//
// Creation timestamps are strictly increasing, so "order by created"
// is deterministic even within one wall-clock tick.
func (s *store) tick() time.Time {
	s.serial += 1
	return time.Now().Add(time.Duration(s.serial) * time.Microsecond)
}

type clusters store

func (c *clusters) Register(_ context.Context, cluster domain.Cluster) error {
	s := (*store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[cluster.Name]; ok {
		return fmt.Errorf("%w: cluster %s", domain.ErrConflict, cluster.Name)
	}
	s.clusters[cluster.Name] = cluster
	return nil
}

func (c *clusters) Get(_ context.Context, name string) (domain.Cluster, error) {
	s := (*store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	cluster, ok := s.clusters[name]
	if !ok {
		return domain.Cluster{}, fmt.Errorf("%w: cluster %s", domain.ErrMissing, name)
	}
	return cluster, nil
}

type apps store

func (a *apps) New(_ context.Context, app domain.App) error {
	s := (*store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.Id]; ok {
		return fmt.Errorf("%w: app %s", domain.ErrConflict, app.Id)
	}
	s.apps[app.Id] = app
	return nil
}

func (a *apps) Get(_ context.Context, id string) (domain.App, error) {
	s := (*store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return domain.App{}, fmt.Errorf("%w: app %s", domain.ErrMissing, id)
	}
	return app, nil
}

func (a *apps) List(_ context.Context, owner string) ([]domain.App, error) {
	s := (*store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	found := []domain.App{}
	for _, app := range s.apps {
		if owner == "" || app.Owner == owner {
			found = append(found, app)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Id < found[j].Id })
	return found, nil
}

func (a *apps) SetStructure(_ context.Context, id string, structure map[string]int) error {
	s := (*store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return fmt.Errorf("%w: app %s", domain.ErrMissing, id)
	}
	app.Structure = map[string]int{}
	for k, v := range structure {
		app.Structure[k] = v
	}
	s.apps[id] = app
	return nil
}

func (a *apps) Delete(_ context.Context, id string) error {
	s := (*store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[id]; !ok {
		return fmt.Errorf("%w: app %s", domain.ErrMissing, id)
	}
	delete(s.apps, id)
	return nil
}

type releases store

func (r *releases) New(_ context.Context, rel domain.Release) error {
	s := (*store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, known := range s.releases[rel.AppId] {
		if known.Version == rel.Version {
			return fmt.Errorf(
				"%w: release %s-v%d", domain.ErrConflict, rel.AppId, rel.Version,
			)
		}
	}
	rel.CreatedAt = s.tick()
	s.releases[rel.AppId] = append(s.releases[rel.AppId], rel)
	return nil
}

func (r *releases) Latest(_ context.Context, appId string) (domain.Release, error) {
	s := (*store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rels := s.releases[appId]
	if len(rels) == 0 {
		return domain.Release{}, fmt.Errorf("%w: releases of %s", domain.ErrMissing, appId)
	}
	latest := rels[0]
	for _, rel := range rels[1:] {
		if latest.Version < rel.Version {
			latest = rel
		}
	}
	return latest, nil
}

func (r *releases) Get(_ context.Context, appId string, version int) (domain.Release, error) {
	s := (*store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rel := range s.releases[appId] {
		if rel.Version == version {
			return rel, nil
		}
	}
	return domain.Release{}, fmt.Errorf(
		"%w: release %s-v%d", domain.ErrMissing, appId, version,
	)
}

func (r *releases) List(_ context.Context, appId string) ([]domain.Release, error) {
	s := (*store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rels := append([]domain.Release{}, s.releases[appId]...)
	sort.Slice(rels, func(i, j int) bool { return rels[i].Version > rels[j].Version })
	return rels, nil
}

func (r *releases) DeleteByApp(_ context.Context, appId string) error {
	s := (*store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.releases, appId)
	return nil
}

type containers store

func (c *containers) New(_ context.Context, con domain.Container) (domain.Container, error) {
	s := (*store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	con.Id = s.nextId("container")
	con.CreatedAt = s.tick()
	s.containers[con.Id] = con
	return con, nil
}

func (c *containers) Get(_ context.Context, id string) (domain.Container, error) {
	s := (*store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	con, ok := s.containers[id]
	if !ok {
		return domain.Container{}, fmt.Errorf("%w: container %s", domain.ErrMissing, id)
	}
	return con, nil
}

func (c *containers) List(ctx context.Context, appId string) ([]domain.Container, error) {
	return c.list(appId, func(domain.Container) bool { return true })
}

func (c *containers) ListByType(_ context.Context, appId string, ctype string) ([]domain.Container, error) {
	return c.list(appId, func(con domain.Container) bool { return con.Type == ctype })
}

func (c *containers) list(appId string, match func(domain.Container) bool) ([]domain.Container, error) {
	s := (*store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	found := []domain.Container{}
	for _, con := range s.containers {
		if con.AppId != appId || con.State == domain.Destroyed || !match(con) {
			continue
		}
		found = append(found, con)
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].CreatedAt.Before(found[j].CreatedAt)
	})
	return found, nil
}

func (c *containers) MaxNum(_ context.Context, appId string, ctype string) (int, error) {
	s := (*store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, con := range s.containers {
		// destroyed containers count: nums are never reused.
		if con.AppId == appId && con.Type == ctype && max < con.Num {
			max = con.Num
		}
	}
	return max, nil
}

func (c *containers) SetState(_ context.Context, id string, state domain.ContainerState) error {
	s := (*store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	con, ok := s.containers[id]
	if !ok {
		return fmt.Errorf("%w: container %s", domain.ErrMissing, id)
	}
	con.State = state
	s.containers[id] = con
	return nil
}

func (c *containers) SetRelease(_ context.Context, id string, version int) error {
	s := (*store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	con, ok := s.containers[id]
	if !ok {
		return fmt.Errorf("%w: container %s", domain.ErrMissing, id)
	}
	con.ReleaseVersion = version
	s.containers[id] = con
	return nil
}

func (c *containers) DeleteByApp(_ context.Context, appId string) error {
	s := (*store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, con := range s.containers {
		if con.AppId == appId {
			delete(s.containers, id)
		}
	}
	return nil
}

type keys store

func keyId(owner, id string) string {
	return owner + "/" + id
}

func (k *keys) New(_ context.Context, key domain.Key) error {
	s := (*store)(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[keyId(key.Owner, key.Id)]; ok {
		return fmt.Errorf("%w: key %s of %s", domain.ErrConflict, key.Id, key.Owner)
	}
	s.keys[keyId(key.Owner, key.Id)] = key
	return nil
}

func (k *keys) Get(_ context.Context, owner string, id string) (domain.Key, error) {
	s := (*store)(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyId(owner, id)]
	if !ok {
		return domain.Key{}, fmt.Errorf("%w: key %s of %s", domain.ErrMissing, id, owner)
	}
	return key, nil
}

func (k *keys) List(_ context.Context, owner string) ([]domain.Key, error) {
	s := (*store)(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	found := []domain.Key{}
	for _, key := range s.keys {
		if key.Owner == owner {
			found = append(found, key)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Id < found[j].Id })
	return found, nil
}

func (k *keys) Delete(_ context.Context, owner string, id string) error {
	s := (*store)(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[keyId(owner, id)]; !ok {
		return fmt.Errorf("%w: key %s of %s", domain.ErrMissing, id, owner)
	}
	delete(s.keys, keyId(owner, id))
	return nil
}

type domains store

func (d *domains) Add(_ context.Context, dom domain.DomainName) error {
	s := (*store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[dom.Domain]; ok {
		return fmt.Errorf("%w: domain %s", domain.ErrConflict, dom.Domain)
	}
	s.domains[dom.Domain] = dom
	return nil
}

func (d *domains) Remove(_ context.Context, name string) (domain.DomainName, error) {
	s := (*store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	dom, ok := s.domains[name]
	if !ok {
		return domain.DomainName{}, fmt.Errorf("%w: domain %s", domain.ErrMissing, name)
	}
	delete(s.domains, name)
	return dom, nil
}

func (d *domains) List(_ context.Context, appId string) ([]domain.DomainName, error) {
	s := (*store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	found := []domain.DomainName{}
	for _, dom := range s.domains {
		if dom.AppId == appId {
			found = append(found, dom)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Domain < found[j].Domain })
	return found, nil
}
