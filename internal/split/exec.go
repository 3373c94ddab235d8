package split

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"ifcsplit/internal/domain"
)

// killGrace bounds how long Wait may linger after the context expires.
// Without it, a grandchild holding the inherited stderr pipe keeps the
// pipe-copy goroutine, and therefore Wait, alive indefinitely.
const killGrace = 3 * time.Second

// execSplitter shells out to an external splitting engine. Running the
// engine as a subprocess keeps it independently terminable: when the
// context expires the process is killed, the worker slot comes back,
// and the partial output file is discarded by the caller.
type execSplitter struct {
	command   string
	extraArgs []string
}

func NewExecSplitter(command string, extraArgs []string) (*execSplitter, error) {
	if command == "" {
		return nil, fmt.Errorf("splitter command is empty")
	}
	return &execSplitter{command: command, extraArgs: extraArgs}, nil
}

func (s *execSplitter) Split(ctx context.Context, inputPath, outputPath string, filter domain.FilterSpec) error {
	args := append([]string{}, s.extraArgs...)
	args = append(args, inputPath, outputPath)
	for _, g := range filter.GUIDs {
		args = append(args, "--guid", g)
	}
	for _, t := range filter.Types {
		args = append(args, "--type", t)
	}
	for _, st := range filter.Storeys {
		args = append(args, "--storey", st)
	}

	start := time.Now()

	cmd := exec.CommandContext(ctx, s.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// The engine runs in its own process group so that cancellation
	// kills its whole tree, not just the direct child. An engine that
	// forks workers would otherwise survive the deadline holding the
	// stderr pipe open and blocking Run.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		slog.Error("splitter exec failed",
			slog.String("cmd", s.command),
			slog.String("args", strings.Join(args, " ")),
			slog.Int64("duration_ms", dur.Milliseconds()),
			slog.String("error", err.Error()),
			slog.String("stderr", truncate(stderr.String(), 8<<10)),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("splitter terminated: %w", ctxErr)
		}
		if msg := truncate(strings.TrimSpace(stderr.String()), 1<<10); msg != "" {
			return fmt.Errorf("splitter failed: %s", msg)
		}
		return fmt.Errorf("splitter failed: %w", err)
	}

	slog.Debug("splitter exec ok",
		slog.String("cmd", s.command),
		slog.Int64("duration_ms", dur.Milliseconds()),
	)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
