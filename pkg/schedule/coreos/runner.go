package coreos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	xe "github.com/dockyard-paas/dockyard/pkg/errors"
)

// execRunner invokes the wrapper scripts found on PATH.
type execRunner struct{}

func NewRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, env map[string]string, script string, args ...string) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, script, args...)
	cmd.Env = os.Environ()
	for name, value := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", name, value))
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitErr := new(exec.ExitError)
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), out, nil
		}
		return 0, nil, xe.Wrap(err)
	}
	return 0, out, nil
}
