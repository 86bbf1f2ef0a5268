package build

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tactilityproject/ttbuild/internal/logger"
)

// Invocation describes one run of the external build tool.
type Invocation struct {
	// Dir is the working directory, the project root.
	Dir string
	// Args are passed after the tool name.
	Args []string
	// Env is the complete subprocess environment.
	Env []string
}

// Result is the outcome of a finished tool run.
type Result struct {
	// ExitCode is the process exit status.
	ExitCode int
	// Output holds the combined stdout and stderr lines in order.
	Output []string
}

// Tool runs the external build tool.
type Tool interface {
	Run(ctx context.Context, inv *Invocation) (*Result, error)
}

const (
	// DefaultQueueSize bounds the number of output lines waiting for the consumer.
	DefaultQueueSize = 256

	// waitDelay bounds how long Wait keeps reading output after the tool exits
	// or is killed, in case a grandchild still holds the pipe open.
	waitDelay = 5 * time.Second
)

// ExecTool runs a real executable.
type ExecTool struct {
	// name is the executable, resolved through PATH.
	name string
	// queueSize bounds the output line queue.
	queueSize int
}

// ExecToolOption configures an ExecTool.
type ExecToolOption func(*ExecTool)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) ExecToolOption {
	return func(t *ExecTool) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// NewExecTool creates an ExecTool for the named executable.
func NewExecTool(name string, opts ...ExecToolOption) *ExecTool {
	t := &ExecTool{
		name:      name,
		queueSize: DefaultQueueSize,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Run starts the tool and collects its output. A non-zero exit status is
// reported in Result.ExitCode, not as an error; errors mean the tool could
// not be run at all or ctx was canceled.
func (t *ExecTool) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	cmd := t.command(ctx, inv.Args)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	cmd.WaitDelay = waitDelay

	reader, writer := io.Pipe()
	cmd.Stdout = writer
	cmd.Stderr = writer

	logger.Debugf(ctx, "Running command: %s", strings.Join(cmd.Args, " "))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", t.name, err)
	}

	lines := make(chan string, t.queueSize)

	var waitErr error

	group := new(errgroup.Group)

	// Producer: split the pipe into lines until the writer side is closed.
	group.Go(func() error {
		defer close(lines)

		return readLines(reader, lines)
	})

	// Waiter: closing the writer ends the producer once the process is gone.
	group.Go(func() error {
		waitErr = cmd.Wait()
		_ = writer.Close()

		return nil
	})

	result := new(Result)

	for line := range lines {
		logger.Debug(ctx, line)
		result.Output = append(result.Output, line)
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("read %s output: %w", t.name, err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var exitErr *exec.ExitError

	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("wait for %s: %w", t.name, waitErr)
	}

	return result, nil
}

func (t *ExecTool) command(ctx context.Context, args []string) *exec.Cmd {
	// idf.py is a batch wrapper on Windows and needs the shell.
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", append([]string{"/C", t.name}, args...)...) //nolint:gosec // Tool name comes from the local configuration.
	}

	return exec.CommandContext(ctx, t.name, args...) //nolint:gosec // Tool name comes from the local configuration.
}

// readLines sends every line of r to lines, including a final unterminated one.
func readLines(r io.Reader, lines chan<- string) error {
	buffered := bufio.NewReader(r)

	for {
		line, err := buffered.ReadString('\n')
		if line != "" {
			lines <- strings.TrimRight(line, "\r\n")
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}
	}
}
