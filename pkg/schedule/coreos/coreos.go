// Package coreos is the scheduler backend for fleet-managed CoreOS clusters.
//
// Jobs are rendered into systemd unit files and handed to a fleet wrapper
// script over ssh. The wrapper reads the target host, the ssh key and the
// unit body from FLEETW_* variables, so no unit file touches the remote
// filesystem before fleet owns it.
package coreos

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/dockyard-paas/dockyard/pkg/domain/jobname"
	xe "github.com/dockyard-paas/dockyard/pkg/errors"
	"github.com/dockyard-paas/dockyard/pkg/loop"
	"github.com/dockyard-paas/dockyard/pkg/schedule"
)

// Runner executes a fleet wrapper script with extra environment.
//
// # Returns
//
// - int : exit code of the script.
//
// - []byte : combined stdout/stderr.
//
// - error : when the script could not be executed at all.
type Runner interface {
	Run(ctx context.Context, env map[string]string, script string, args ...string) (int, []byte, error)
}

type Backend struct {
	hosts   []string
	keyPath string
	runner  Runner
	logger  *log.Logger

	// Interval and Attempts bound the announcer wait.
	Interval time.Duration
	Attempts int
}

var _ schedule.Backend = &Backend{}

// New materializes the cluster's ssh key under dir and returns a Backend
// submitting units through runner.
func New(clusterName string, hosts []string, auth string, dir string, runner Runner, logger *log.Logger) (*Backend, error) {
	key, err := base64.StdEncoding.DecodeString(auth)
	if err != nil {
		return nil, xe.WrapWithNote(fmt.Sprintf("cluster %s carries a malformed ssh key", clusterName), err)
	}
	keyPath := filepath.Join(dir, "ssh-"+clusterName)
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return nil, xe.Wrap(err)
	}
	return &Backend{
		hosts:    hosts,
		keyPath:  keyPath,
		runner:   runner,
		logger:   logger,
		Interval: schedule.AnnouncerPollInterval,
		Attempts: schedule.AnnouncerPollAttempts,
	}, nil
}

func (b *Backend) env() map[string]string {
	return map[string]string{
		"FLEETW_KEY":  b.keyPath,
		"FLEETW_HOST": b.hosts[rand.Intn(len(b.hosts))],
	}
}

// fleetctl runs one wrapper invocation and treats a non-zero exit as fatal.
func (b *Backend) fleetctl(ctx context.Context, env map[string]string, args ...string) error {
	code, out, err := b.runner.Run(ctx, env, "fleetctl.sh", args...)
	if err != nil {
		return xe.Wrap(err)
	}
	if code != 0 {
		return fmt.Errorf(
			"%w: fleetctl %s (exit %d): %s",
			schedule.ErrRemoteCommand, strings.Join(args, " "), code, bytes.TrimSpace(out),
		)
	}
	return nil
}

func (b *Backend) submit(ctx context.Context, env map[string]string, unit string, body string) error {
	env["FLEETW_UNIT"] = unit
	env["FLEETW_UNIT_DATA"] = base64.StdEncoding.EncodeToString([]byte(body))
	return b.fleetctl(ctx, env, "submit", unit)
}

type unitContext struct {
	Name    string
	App     string
	Type    string
	Num     int
	Image   string
	Command string

	// Memory and CPU are full docker flags ("-m 512m", "-c 512"), or empty.
	Memory string
	CPU    string
}

func newUnitContext(name string, image string, command string, limits schedule.ResourceLimits) (unitContext, error) {
	parsed, err := jobname.Parse(name)
	if err != nil {
		return unitContext{}, xe.Wrap(err)
	}
	uc := unitContext{
		Name: name, App: parsed.App, Type: parsed.Type, Num: parsed.Num,
		Image: image, Command: command,
	}
	if mem, ok := limits.Memory[parsed.Type]; ok && mem != "" {
		uc.Memory = fmt.Sprintf("-m %s", strings.ToLower(mem))
	}
	if cpu, ok := limits.CPU[parsed.Type]; ok && cpu != "" {
		uc.CPU = fmt.Sprintf("-c %s", cpu)
	}
	return uc, nil
}

func render(tpl *template.Template, uc unitContext) string {
	sb := new(strings.Builder)
	// templates are package constants, parsed once. Execute cannot fail.
	if err := tpl.Execute(sb, uc); err != nil {
		panic(err)
	}
	return sb.String()
}

func (b *Backend) Create(ctx context.Context, name string, image string, command string, limits schedule.ResourceLimits, useAnnouncer bool) error {
	b.logger.Infof("creating %s", name)
	uc, err := newUnitContext(name, image, command, limits)
	if err != nil {
		return err
	}

	env := b.env()
	if err := b.submit(ctx, env, schedule.MainUnit(name), render(containerTemplate, uc)); err != nil {
		return err
	}
	if err := b.submit(ctx, env, schedule.LogUnit(name), render(logTemplate, uc)); err != nil {
		return err
	}
	if !useAnnouncer {
		b.logger.Debugf("skipping announcer create for %s", name)
		return nil
	}
	return b.submit(ctx, env, schedule.AnnounceUnit(name), render(announceTemplate, uc))
}

func (b *Backend) Start(ctx context.Context, name string, useAnnouncer bool) error {
	b.logger.Infof("starting %s", name)
	env := b.env()
	if err := b.fleetctl(ctx, env, "start", "-no-block", schedule.MainUnit(name)); err != nil {
		return err
	}
	if err := b.fleetctl(ctx, env, "start", "-no-block", schedule.LogUnit(name)); err != nil {
		return err
	}
	if !useAnnouncer {
		b.logger.Debugf("skipping announcer start for %s", name)
		return nil
	}
	if err := b.fleetctl(ctx, env, "start", "-no-block", schedule.AnnounceUnit(name)); err != nil {
		return err
	}
	return b.waitForAnnouncer(ctx, env, name)
}

// waitForAnnouncer polls the unit list until the announce unit reports
// running. The attempt budget matches TimeoutStartSec in the unit files;
// exhausting it is fatal.
func (b *Backend) waitForAnnouncer(ctx context.Context, env map[string]string, name string) error {
	unit := schedule.AnnounceUnit(name)
	attempt := 0
	_, err := loop.Start(ctx, struct{}{}, func(ctx context.Context, _ struct{}) (struct{}, loop.Next) {
		attempt += 1
		if b.Attempts < attempt {
			return struct{}{}, loop.Break(schedule.NewErrAnnouncerTimeout(name, b.Attempts))
		}
		code, out, err := b.runner.Run(ctx, env, "fleetctl.sh", "list-units")
		if err != nil || code != 0 {
			return struct{}{}, loop.Continue(b.Interval)
		}
		for _, line := range strings.Split(string(out), "\n") {
			if !strings.Contains(line, unit) {
				continue
			}
			for _, field := range strings.Fields(line) {
				if field == "running" {
					return struct{}{}, loop.Break(nil)
				}
			}
		}
		return struct{}{}, loop.Continue(b.Interval)
	})
	return err
}

func (b *Backend) Stop(ctx context.Context, name string, useAnnouncer bool) error {
	b.logger.Infof("stopping %s", name)
	env := b.env()
	if useAnnouncer {
		if err := b.fleetctl(ctx, env, "stop", "-block-attempts=600", schedule.AnnounceUnit(name)); err != nil {
			return err
		}
	} else {
		b.logger.Debugf("skipping announcer stop for %s", name)
	}
	if err := b.fleetctl(ctx, env, "stop", "-block-attempts=600", schedule.MainUnit(name)); err != nil {
		return err
	}
	return b.fleetctl(ctx, env, "stop", "-block-attempts=600", schedule.LogUnit(name))
}

func (b *Backend) Destroy(ctx context.Context, name string, useAnnouncer bool) error {
	b.logger.Infof("destroying %s", name)
	env := b.env()
	if useAnnouncer {
		if err := b.fleetctl(ctx, env, "destroy", schedule.AnnounceUnit(name)); err != nil {
			return err
		}
	} else {
		b.logger.Debugf("skipping announcer destroy for %s", name)
	}
	if err := b.fleetctl(ctx, env, "destroy", schedule.MainUnit(name)); err != nil {
		return err
	}
	return b.fleetctl(ctx, env, "destroy", schedule.LogUnit(name))
}

func (b *Backend) Run(ctx context.Context, name string, image string, command string) (int, []byte, error) {
	b.logger.Infof("running %s", name)
	code, out, err := b.runner.Run(ctx, b.env(), "fleetrun.sh", image, command)
	if err != nil {
		return 0, nil, xe.Wrap(err)
	}
	return code, out, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Attach is not supported over the fleet wrapper. Empty streams.
func (b *Backend) Attach(_ context.Context, name string) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	return nopWriteCloser{io.Discard},
		io.NopCloser(bytes.NewReader(nil)),
		io.NopCloser(bytes.NewReader(nil)),
		nil
}
