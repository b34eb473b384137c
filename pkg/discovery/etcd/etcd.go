// Package etcd backs the discovery store with an etcd cluster.
package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/dockyard-paas/dockyard/pkg/discovery"
	xe "github.com/dockyard-paas/dockyard/pkg/errors"
)

type store struct {
	client *clientv3.Client
}

// New connects to etcd and verifies it responds.
//
// # Returns
//
// - discovery.Store
//
// - func() error : closer.
//
// - error : when the endpoints do not respond within timeout.
func New(ctx context.Context, endpoints []string, timeout time.Duration) (discovery.Store, func() error, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, nil, xe.Wrap(err)
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := client.Get(pctx, "/deis"); err != nil {
		client.Close()
		return nil, nil, xe.WrapWithNote("cannot synchronize with etcd cluster", err)
	}

	return &store{client: client}, client.Close, nil
}

func (s *store) Set(ctx context.Context, key string, value string) error {
	_, err := s.client.Put(ctx, key, value)
	return xe.Wrap(err)
}

func (s *store) SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error {
	lease, err := s.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return xe.Wrap(err)
	}
	_, err = s.client.Put(ctx, key, value, clientv3.WithLease(lease.ID))
	return xe.Wrap(err)
}

func (s *store) Get(ctx context.Context, key string) (string, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return "", xe.Wrap(err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("no value for %s", key)
	}
	return string(resp.Kvs[0].Value), nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	_, err := s.client.Delete(ctx, key)
	return xe.Wrap(err)
}

func (s *store) DeleteTree(ctx context.Context, prefix string) error {
	if _, err := s.client.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
		return xe.Wrap(err)
	}
	_, err := s.client.Delete(ctx, prefix)
	return xe.Wrap(err)
}
