package worker

import (
	"context"
	stderrors "errors"
	"io"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Elon-Abulafia/PipeRT/errors"
)

// DefaultGracePeriod is how long a process may take to exit after SIGTERM
const DefaultGracePeriod = 5 * time.Second

// Process runs an external command as a worker
type Process struct {
	name   string
	path   string
	args   []string
	env    []string
	grace  time.Duration
	stdout io.Writer
	stderr io.Writer

	stopping atomic.Bool
	pid      atomic.Int64
	completion
}

// ProcessOption configures a Process
type ProcessOption func(*Process)

// WithGracePeriod sets the delay between SIGTERM and SIGKILL
func WithGracePeriod(d time.Duration) ProcessOption {
	return func(p *Process) {
		if d > 0 {
			p.grace = d
		}
	}
}

// WithOutput redirects the process stdout and stderr
func WithOutput(stdout, stderr io.Writer) ProcessOption {
	return func(p *Process) {
		p.stdout = stdout
		p.stderr = stderr
	}
}

// WithEnv appends KEY=VALUE entries to the inherited environment
func WithEnv(env ...string) ProcessOption {
	return func(p *Process) {
		p.env = append(p.env, env...)
	}
}

// NewProcess creates a worker that runs path with args
func NewProcess(name, path string, args []string, opts ...ProcessOption) (*Process, error) {
	if path == "" {
		return nil, errors.WrapInvalid(ErrEmptyCommand, "Process", "New", name)
	}
	p := &Process{name: name, path: path, args: args, grace: DefaultGracePeriod}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the worker name
func (p *Process) Name() string { return p.name }

// Kind returns KindProcess
func (p *Process) Kind() Kind { return KindProcess }

// PID returns the operating system process id, or 0 before Start
func (p *Process) PID() int { return int(p.pid.Load()) }

// Start spawns the process. When ctx is cancelled the process receives
// SIGTERM and, if still alive after the grace period, SIGKILL.
func (p *Process) Start(ctx context.Context) error {
	if err := p.begin(p.name); err != nil {
		return err
	}

	cmd := exec.Command(p.path, p.args...)
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	if len(p.env) > 0 {
		cmd.Env = append(cmd.Environ(), p.env...)
	}

	if err := cmd.Start(); err != nil {
		err = errors.WrapFatal(err, "Process", "Start", "spawn "+p.path)
		p.finish(err)
		return err
	}
	p.pid.Store(int64(cmd.Process.Pid))

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	go p.supervise(ctx, cmd, exited)
	return nil
}

func (p *Process) supervise(ctx context.Context, cmd *exec.Cmd, exited <-chan error) {
	select {
	case err := <-exited:
		p.finish(p.exitError(err))
		return
	case <-ctx.Done():
	}

	p.stopping.Store(true)
	_ = cmd.Process.Signal(syscall.SIGTERM)

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case err := <-exited:
		p.finish(p.exitError(err))
	case <-timer.C:
		_ = cmd.Process.Kill()
		p.finish(p.exitError(<-exited))
	}
}

// exitError drops the non-zero exit caused by our own stop signal
func (p *Process) exitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if p.stopping.Load() && stderrors.As(err, &ee) {
		return nil
	}
	return errors.Wrap(err, "Process", "Wait", p.name)
}

// Join waits for the process to exit
func (p *Process) Join(ctx context.Context) error { return p.join(ctx, p.name) }

// Running reports whether the process is alive
func (p *Process) Running() bool { return p.running() }
