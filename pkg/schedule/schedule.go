// Package schedule declares the contract between the control plane and the
// cluster scheduler.
//
// A Backend provisions, starts, stops and destroys named execution units.
// Each name is a job identity (see pkg/domain/jobname), and stands for up to
// three logically bound remote units:
//
//   - the main unit, owning the process;
//   - the log unit, tailing the process output to a log collector;
//   - the announce unit (only when the job is announceable), registering the
//     process endpoint with the discovery store.
//
// The announce unit is the single source of truth for "this job is
// externally reachable". It must appear only after the main unit is healthy
// (Start blocks until the announcer reports running) and must disappear
// before the main unit is torn down (Stop and Destroy handle the announcer
// first), so that no stale discovery entry outlives the backing process.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ResourceLimits carries the per-process-type ceilings of a release.
type ResourceLimits struct {
	// Memory maps process type to a memory ceiling (e.g. "512M").
	Memory map[string]string

	// CPU maps process type to a cpu-share ceiling (e.g. "512").
	CPU map[string]string
}

type Backend interface {
	// Create provisions the units of the job. Nothing is started.
	//
	// Fails fatally when the remote submission fails; no partial-unit
	// cleanup is attempted by Create itself.
	Create(ctx context.Context, name string, image string, command string, limits ResourceLimits, useAnnouncer bool) error

	// Start starts the main and log units.
	//
	// When useAnnouncer, it also starts the announce unit and then blocks
	// until the announcer reports running, polling once per second for up
	// to 1200 attempts (20 minutes, matching the unit-file timeout).
	// Exceeding the attempt budget fails with ErrAnnouncerTimeout.
	Start(ctx context.Context, name string, useAnnouncer bool) error

	// Stop stops the units: announcer first, then main, then log.
	Stop(ctx context.Context, name string, useAnnouncer bool) error

	// Destroy removes the units, in the same ordering as Stop.
	Destroy(ctx context.Context, name string, useAnnouncer bool) error

	// Run executes a one-off command synchronously.
	//
	// # Returns
	//
	// - int : exit code. A non-zero exit is NOT an error.
	//
	// - []byte : combined stdout/stderr.
	//
	// - error : only when the command could not be executed at all.
	Run(ctx context.Context, name string, image string, command string) (int, []byte, error)

	// Attach returns stdin, stdout and stderr streams of the job.
	//
	// A backend not supporting interactive attach returns empty streams;
	// that is a permitted degraded behavior, not an error.
	Attach(ctx context.Context, name string) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error)
}

// Unit names of a job.

func MainUnit(name string) string {
	return name + ".service"
}

func LogUnit(name string) string {
	return name + "-log.service"
}

func AnnounceUnit(name string) string {
	return name + "-announce.service"
}

const (
	// AnnouncerPollInterval between announcer status probes.
	AnnouncerPollInterval = 1 * time.Second

	// AnnouncerPollAttempts before Start gives up.
	//
	// 1200 x 1s = 20 minutes, matching TimeoutStartSec in the unit files
	// and the timeout on the router.
	AnnouncerPollAttempts = 1200
)

var (
	// ErrRemoteCommand : a provisioning/start/stop/destroy call failed
	// remotely. Fatal; the core does not retry.
	ErrRemoteCommand = errors.New("remote command failed")

	// ErrAnnouncerTimeout : the announcer never reported running within the
	// bounded poll window. Fatal, not retryable.
	ErrAnnouncerTimeout = errors.New("container failed to start")
)

func NewErrAnnouncerTimeout(name string, attempts int) error {
	return fmt.Errorf("%w: %s did not announce within %d attempts", ErrAnnouncerTimeout, name, attempts)
}
