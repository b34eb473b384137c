// Package mock is an in-memory discovery store for tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dockyard-paas/dockyard/pkg/discovery"
)

type Store struct {
	mu sync.Mutex

	// Values maps key to value, TTLs ignored.
	Values map[string]string
}

var _ discovery.Store = &Store{}

func New() *Store {
	return &Store{Values: map[string]string{}}
}

func (s *Store) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Values[key] = value
	return nil
}

func (s *Store) SetWithTTL(ctx context.Context, key string, value string, _ time.Duration) error {
	return s.Set(ctx, key, value)
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.Values[key]
	if !ok {
		return "", fmt.Errorf("no value for %s", key)
	}
	return value, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Values, key)
	return nil
}

func (s *Store) DeleteTree(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.Values {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			delete(s.Values, key)
		}
	}
	return nil
}
