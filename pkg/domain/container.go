package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dockyard-paas/dockyard/pkg/domain/jobname"
)

type ContainerState string

const (
	// The container record exists. Nothing is scheduled yet.
	Initialized ContainerState = "initialized"

	// Remote units are submitted, not started.
	Created ContainerState = "created"

	// The container is running.
	Up ContainerState = "up"

	// The container is stopped, or failed to start.
	Down ContainerState = "down"

	// The remote units are gone. Terminal.
	Destroyed ContainerState = "destroyed"
)

func (cs ContainerState) String() string {
	return string(cs)
}

func AsContainerState(s string) (ContainerState, error) {
	switch s {
	case string(Initialized):
		return Initialized, nil
	case string(Created):
		return Created, nil
	case string(Up):
		return Up, nil
	case string(Down):
		return Down, nil
	case string(Destroyed):
		return Destroyed, nil
	default:
		return "", fmt.Errorf("'%s' is not a container state", s)
	}
}

// ProcessTypeCmd is the reserved process type meaning
// "run the image's built-in entry point".
const ProcessTypeCmd = "cmd"

// ProcessTypeWeb is the externally reachable process type.
const ProcessTypeWeb = "web"

// ProcessTypeAdmin is the process type allocated for one-off commands.
const ProcessTypeAdmin = "admin"

// Container is one numbered instance of a process type,
// running (or transitioning) on behalf of an application.
type Container struct {
	Id    string
	AppId string

	// ReleaseVersion of the release the container runs.
	//
	// Reassigned (container identity kept) during a rolling redeploy.
	ReleaseVersion int

	// Type of process, e.g. "web", "worker", or the reserved "cmd".
	Type string

	// Num is unique and never reused within (application, type).
	Num int

	State ContainerState

	CreatedAt time.Time
}

// JobName is the deterministic identity of the container's remote units.
//
// No two live containers compute the same name, since
// (application, release version, type, num) identifies a container.
func (c Container) JobName() string {
	return jobname.Compose(c.AppId, c.ReleaseVersion, c.Type, c.Num)
}

// Command the image's process manager should run.
//
// Empty for the reserved "cmd" type, meaning the image's built-in
// entry point is used verbatim.
func (c Container) Command() string {
	if c.Type == ProcessTypeCmd {
		return ""
	}
	return fmt.Sprintf("start %s", c.Type)
}

// Announceable is true only for containers which should register themselves
// for service discovery: the web-facing process type, or a raw image default.
func (c Container) Announceable() bool {
	command := strings.ToLower(c.Command())
	return command == "" || command == "start web"
}

func (c Container) String() string {
	return fmt.Sprintf("%s.%s.%d", c.AppId, c.Type, c.Num)
}

var ErrInvalidTransition = errors.New("invalid transition")

func NewErrInvalidTransition(event string, from ContainerState) error {
	return fmt.Errorf("%w: cannot %s from state %s", ErrInvalidTransition, event, from)
}
