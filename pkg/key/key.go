// Package key manages users' ssh public keys.
//
// Keys let the build pipeline authenticate git pushes. Each stored key is
// published to the coordination store under the owner and the key's
// fingerprint, where the builder reads it; removing the key purges that
// entry.
package key

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/labstack/gommon/log"

	"github.com/dockyard-paas/dockyard/pkg/db"
	"github.com/dockyard-paas/dockyard/pkg/discovery"
	"github.com/dockyard-paas/dockyard/pkg/domain"
	xe "github.com/dockyard-paas/dockyard/pkg/errors"
)

// Fingerprint computes the md5 fingerprint of an ssh public key, rendered
// as colon-joined hex pairs ("54:6d:da:1f:...").
func Fingerprint(public string) (string, error) {
	fields := strings.Fields(public)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: not an ssh public key", domain.ErrValidation)
	}
	body, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return "", fmt.Errorf("%w: not an ssh public key: %s", domain.ErrValidation, err)
	}
	sum := md5.Sum(body)
	pairs := make([]string, len(sum))
	for i, b := range sum {
		pairs[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(pairs, ":"), nil
}

type Manager struct {
	keys      db.KeyInterface
	discovery discovery.Store
	logger    *log.Logger
}

func NewManager(keys db.KeyInterface, disc discovery.Store, logger *log.Logger) *Manager {
	return &Manager{keys: keys, discovery: disc, logger: logger}
}

// Add stores a key and publishes it for the build pipeline.
func (m *Manager) Add(ctx context.Context, key domain.Key) (string, error) {
	fingerprint, err := Fingerprint(key.Public)
	if err != nil {
		return "", err
	}
	if err := m.keys.New(ctx, key); err != nil {
		return "", xe.Wrap(err)
	}
	if err := m.discovery.Set(ctx, discovery.BuilderKeyPath(key.Owner, fingerprint), key.Public); err != nil {
		return "", xe.WrapWithNote(fmt.Sprintf("key %s stored but not published", key.Id), err)
	}
	m.logger.Infof("added key %s for %s (%s)", key.Id, key.Owner, fingerprint)
	return fingerprint, nil
}

// Remove deletes a key and purges its published entry.
func (m *Manager) Remove(ctx context.Context, owner string, id string) error {
	key, err := m.keys.Get(ctx, owner, id)
	if err != nil {
		return xe.Wrap(err)
	}
	fingerprint, err := Fingerprint(key.Public)
	if err != nil {
		return err
	}
	if err := m.keys.Delete(ctx, owner, id); err != nil {
		return xe.Wrap(err)
	}
	if err := m.discovery.Delete(ctx, discovery.BuilderKeyPath(owner, fingerprint)); err != nil {
		return xe.WrapWithNote(fmt.Sprintf("key %s removed but still published", id), err)
	}
	m.logger.Infof("removed key %s for %s", id, owner)
	return nil
}

func (m *Manager) List(ctx context.Context, owner string) ([]domain.Key, error) {
	return m.keys.List(ctx, owner)
}

func (m *Manager) Get(ctx context.Context, owner string, id string) (domain.Key, error) {
	return m.keys.Get(ctx, owner, id)
}
