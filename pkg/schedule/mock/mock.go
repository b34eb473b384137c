// Package mock is a scheduler backend that schedules nothing.
//
// Every operation succeeds and is recorded, so tests can assert the exact
// sequence of remote effects the control plane requested.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/dockyard-paas/dockyard/pkg/schedule"
)

type Op struct {
	Verb string // "create", "start", "stop", "destroy", "run"
	Name string

	Image        string
	Command      string
	Limits       schedule.ResourceLimits
	UseAnnouncer bool
}

type Backend struct {
	mu sync.Mutex

	// Ops in the order they were requested.
	Ops []Op

	// Units maps job name to its last known unit state.
	Units map[string]string

	// RunExitCode and RunOutput are returned from Run.
	RunExitCode int
	RunOutput   []byte
}

var _ schedule.Backend = &Backend{}

func New() *Backend {
	return &Backend{Units: map[string]string{}}
}

func (b *Backend) record(op Op, state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Ops = append(b.Ops, op)
	if state != "" {
		b.Units[op.Name] = state
	}
}

func (b *Backend) Create(_ context.Context, name string, image string, command string, limits schedule.ResourceLimits, useAnnouncer bool) error {
	b.record(Op{
		Verb: "create", Name: name,
		Image: image, Command: command, Limits: limits, UseAnnouncer: useAnnouncer,
	}, "created")
	return nil
}

func (b *Backend) Start(_ context.Context, name string, useAnnouncer bool) error {
	b.record(Op{Verb: "start", Name: name, UseAnnouncer: useAnnouncer}, "running")
	return nil
}

func (b *Backend) Stop(_ context.Context, name string, useAnnouncer bool) error {
	b.record(Op{Verb: "stop", Name: name, UseAnnouncer: useAnnouncer}, "stopped")
	return nil
}

func (b *Backend) Destroy(_ context.Context, name string, useAnnouncer bool) error {
	b.record(Op{Verb: "destroy", Name: name, UseAnnouncer: useAnnouncer}, "")
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.Units, name)
	return nil
}

func (b *Backend) Run(_ context.Context, name string, image string, command string) (int, []byte, error) {
	b.record(Op{Verb: "run", Name: name, Image: image, Command: command}, "")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.RunExitCode, b.RunOutput, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (b *Backend) Attach(_ context.Context, name string) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	return nopWriteCloser{io.Discard},
		io.NopCloser(bytes.NewReader(nil)),
		io.NopCloser(bytes.NewReader(nil)),
		nil
}

// Names returns the job names touched by the recorded ops with the given verb,
// in request order.
func (b *Backend) Names(verb string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := []string{}
	for _, op := range b.Ops {
		if op.Verb == verb {
			names = append(names, op.Name)
		}
	}
	return names
}
