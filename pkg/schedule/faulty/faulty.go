// Package faulty wraps another scheduler backend and fails selected verbs.
//
// It exists so that failure handling in the container lifecycle can be
// exercised without a real cluster misbehaving on cue.
package faulty

import (
	"context"
	"fmt"
	"io"

	"github.com/dockyard-paas/dockyard/pkg/schedule"
)

type Backend struct {
	inner schedule.Backend

	// failures holds the verbs that should fail ("create", "start",
	// "stop", "destroy", "run").
	failures map[string]bool
}

var _ schedule.Backend = &Backend{}

func New(inner schedule.Backend, failures ...string) *Backend {
	f := map[string]bool{}
	for _, verb := range failures {
		f[verb] = true
	}
	return &Backend{inner: inner, failures: f}
}

func (b *Backend) fail(verb string, name string) error {
	if b.failures[verb] {
		return fmt.Errorf("%w: %s %s", schedule.ErrRemoteCommand, verb, name)
	}
	return nil
}

func (b *Backend) Create(ctx context.Context, name string, image string, command string, limits schedule.ResourceLimits, useAnnouncer bool) error {
	if err := b.fail("create", name); err != nil {
		return err
	}
	return b.inner.Create(ctx, name, image, command, limits, useAnnouncer)
}

func (b *Backend) Start(ctx context.Context, name string, useAnnouncer bool) error {
	if err := b.fail("start", name); err != nil {
		return err
	}
	return b.inner.Start(ctx, name, useAnnouncer)
}

func (b *Backend) Stop(ctx context.Context, name string, useAnnouncer bool) error {
	if err := b.fail("stop", name); err != nil {
		return err
	}
	return b.inner.Stop(ctx, name, useAnnouncer)
}

func (b *Backend) Destroy(ctx context.Context, name string, useAnnouncer bool) error {
	if err := b.fail("destroy", name); err != nil {
		return err
	}
	return b.inner.Destroy(ctx, name, useAnnouncer)
}

func (b *Backend) Run(ctx context.Context, name string, image string, command string) (int, []byte, error) {
	if err := b.fail("run", name); err != nil {
		return 0, nil, err
	}
	return b.inner.Run(ctx, name, image, command)
}

func (b *Backend) Attach(ctx context.Context, name string) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	return b.inner.Attach(ctx, name)
}
