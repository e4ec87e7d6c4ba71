// Package trigger runs the configured action when the detector fires.
package trigger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/njh/silentjack/internal/detector"
	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/util"
)

// ExitAction is the command that makes silentjack itself exit on a fire.
const ExitAction = "exit"

// ErrExit is returned by Fire when the configured action is ExitAction.
var ErrExit = errors.New("exit requested by trigger")

// Environment variables passed to the trigger command.
const (
	EnvEvent   = "SILENTJACK_EVENT"
	EnvLevelDB = "SILENTJACK_LEVEL_DB"
	EnvName    = "SILENTJACK_NAME"
)

// Event describes a single fire.
type Event struct {
	Kind    detector.Kind
	LevelDB float64
	Name    string
}

// Invoker runs the action for a fire. Fire blocks until the action finishes.
type Invoker interface {
	Fire(ctx context.Context, ev Event) error
}

// Command runs an external program for each fire.
type Command struct {
	argv []string
}

// NewCommand returns an invoker for argv. An empty argv makes Fire a no-op.
func NewCommand(argv []string) *Command {
	return &Command{argv: argv}
}

// Argv returns the configured command line.
func (c *Command) Argv() []string {
	return c.argv
}

// Fire runs the command and waits for it to exit. A non-zero exit status is
// returned as an error and logged; it never stops detection.
func (c *Command) Fire(ctx context.Context, ev Event) error {
	if len(c.argv) == 0 {
		return nil
	}
	if len(c.argv) == 1 && c.argv[0] == ExitAction {
		slog.Info("trigger requested exit", "event", ev.Kind)
		return ErrExit
	}

	slog.Info("running trigger", "command", c.argv[0], "event", ev.Kind, "level_db", ev.LevelDB)

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout
	cmd.Env = append(os.Environ(),
		EnvEvent+"="+string(ev.Kind),
		EnvLevelDB+"="+strconv.FormatFloat(ev.LevelDB, 'f', 1, 64),
		EnvName+"="+ev.Name,
	)
	cmd.Stdout = os.Stdout

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		if msg := util.ExtractLastError(stderrBuf.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		slog.Error("trigger command failed", "command", c.argv[0], "event", ev.Kind, "error", err)
		return util.WrapError("run trigger command", err)
	}
	return nil
}
