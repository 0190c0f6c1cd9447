package mcp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jg-phare/devorch/pkg/types"
)

const (
	// stderrTailLines bounds the diagnostic tail kept per process.
	stderrTailLines = 20
	// waitDelay bounds how long Wait blocks on I/O after the child exits.
	waitDelay = 2 * time.Second
)

// Process supervises one provider child process. It exposes the child's
// stdin and stdout for the transport channel, drains stderr for diagnostics,
// and signals exit exactly once. There is no restart policy.
type Process struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	logger zerolog.Logger

	tailMu sync.Mutex
	tail   []string

	exited   chan struct{}
	exitCode int

	terminateOnce sync.Once
	terminateErr  error
}

// Spawn starts the provider described by desc. The child inherits the parent
// environment plus desc.Env. A failure to start returns a *SpawnError.
func Spawn(desc types.ServerDescriptor, logger zerolog.Logger) (*Process, error) {
	spawnErr := func(err error) error {
		return &SpawnError{Server: desc.Name, Command: desc.Command, Err: err}
	}
	if err := desc.Validate(); err != nil {
		return nil, spawnErr(err)
	}

	cmd := exec.Command(desc.Command, desc.Args...)
	cmd.Dir = desc.Dir
	cmd.Env = os.Environ()
	for k, v := range desc.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, spawnErr(fmt.Errorf("stdin pipe: %w", err))
	}

	// os.Pipe rather than StdoutPipe: Wait must not close the read side
	// while the transport is still draining buffered frames.
	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, spawnErr(fmt.Errorf("stdout pipe: %w", err))
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		return nil, spawnErr(fmt.Errorf("stderr pipe: %w", err))
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, spawnErr(fmt.Errorf("start process: %w", err))
	}
	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()

	p := &Process{
		name:   desc.Name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: outR,
		logger: logger.With().Str("server", desc.Name).Int("pid", cmd.Process.Pid).Logger(),
		exited: make(chan struct{}),
	}

	go p.drainStderr(errR)
	go p.wait()

	p.logger.Debug().Str("command", desc.Command).Strs("args", desc.Args).Msg("provider process started")
	return p, nil
}

// Stdin returns the child's input stream.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the child's output stream.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// PID returns the child's process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Exited is closed once the child has exited and been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitCode returns the exit status after Exited is closed; -1 means the
// child was killed by a signal.
func (p *Process) ExitCode() int {
	<-p.exited
	return p.exitCode
}

// StderrTail returns the last lines the child wrote to stderr.
func (p *Process) StderrTail() string {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	return strings.Join(p.tail, "\n")
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	close(p.exited)
	p.logger.Debug().Int("code", p.exitCode).Err(err).Msg("provider process exited")
}

func (p *Process) drainStderr(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 16*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Debug().Str("stream", "stderr").Msg(line)

		p.tailMu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > stderrTailLines {
			p.tail = p.tail[len(p.tail)-stderrTailLines:]
		}
		p.tailMu.Unlock()
	}
}

// Terminate stops the child: close stdin, SIGTERM, wait up to grace, then
// SIGKILL. It is idempotent and returns nil if the child already exited.
func (p *Process) Terminate(grace time.Duration) error {
	p.terminateOnce.Do(func() {
		p.terminateErr = p.terminate(grace)
	})
	return p.terminateErr
}

func (p *Process) terminate(grace time.Duration) error {
	select {
	case <-p.exited:
		return nil
	default:
	}

	_ = p.stdin.Close()
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already reaped between the check above and the signal.
		select {
		case <-p.exited:
			return nil
		default:
		}
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	}

	p.logger.Warn().Dur("grace", grace).Msg("provider ignored SIGTERM, killing")
	if err := p.cmd.Process.Kill(); err != nil {
		select {
		case <-p.exited:
			return nil
		default:
			return fmt.Errorf("kill %s: %w", p.name, err)
		}
	}
	<-p.exited
	return nil
}
