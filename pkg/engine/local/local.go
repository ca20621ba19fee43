//go:build unix

// Package local is an engine that runs debuggees under a pseudo-terminal
// without a debugger attached. It supports launch, pause, resume and kill and
// relays terminal output; stepping reports engine.ErrUnsupported.
package local

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/rexliu/vlldb/pkg/engine"
)

// StreamTerminal names the stream of Output events from the pseudo-terminal,
// which merges the debuggee's stdout and stderr.
const StreamTerminal = "stdout"

var defaultSize = pty.Winsize{Rows: 24, Cols: 80}

// Engine launches processes locally.
type Engine struct {
	events chan engine.Event
	closed chan struct{}

	mu    sync.Mutex
	procs map[int]*Process
	once  sync.Once
}

// New returns an Engine ready to launch processes.
func New() *Engine {
	return &Engine{
		events: make(chan engine.Event, 256),
		closed: make(chan struct{}),
		procs:  make(map[int]*Process),
	}
}

// Launch starts spec under a new pseudo-terminal.
func (e *Engine) Launch(spec engine.LaunchSpec) (engine.Process, error) {
	if spec.Executable == "" {
		return nil, errors.New("launch: empty executable")
	}
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Env = append([]string{}, spec.Env...)
	cmd.Dir = spec.WorkingDir

	ptmx, err := pty.StartWithSize(cmd, &defaultSize)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Executable, err)
	}
	p := &Process{eng: e, cmd: cmd, pty: ptmx, pid: cmd.Process.Pid}

	e.mu.Lock()
	e.procs[p.pid] = p
	e.mu.Unlock()

	e.emit(engine.StateChanged{Process: p, State: engine.StateLaunching})
	e.emit(engine.StateChanged{Process: p, State: engine.StateRunning})
	go p.watch()
	return p, nil
}

// WaitForEvent returns the next event or reports false after timeout.
func (e *Engine) WaitForEvent(timeout time.Duration) (engine.Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-e.events:
		return ev, true
	case <-timer.C:
		return nil, false
	}
}

// Close kills every process still running. Events emitted afterwards are
// discarded.
func (e *Engine) Close() error {
	e.once.Do(func() { close(e.closed) })
	e.mu.Lock()
	procs := make([]*Process, 0, len(e.procs))
	for _, p := range e.procs {
		procs = append(procs, p)
	}
	e.mu.Unlock()
	for _, p := range procs {
		if err := p.Kill(); err != nil && !errors.Is(err, engine.ErrNoProcess) {
			return err
		}
	}
	return nil
}

func (e *Engine) emit(ev engine.Event) {
	select {
	case e.events <- ev:
	case <-e.closed:
	}
}

func (e *Engine) forget(pid int) {
	e.mu.Lock()
	delete(e.procs, pid)
	e.mu.Unlock()
}

// Process is a debuggee started by Engine.
type Process struct {
	eng *Engine
	cmd *exec.Cmd
	pty *os.File
	pid int

	mu     sync.Mutex
	exited bool
	killed bool
}

func (p *Process) ID() int { return p.pid }

// Thread returns the single thread the engine models.
func (p *Process) Thread(index int) (engine.Thread, error) {
	if index != 0 {
		return nil, fmt.Errorf("%w: %d", engine.ErrNoThread, index)
	}
	return thread{}, nil
}

func (p *Process) Continue() error {
	if err := p.signal(syscall.SIGCONT); err != nil {
		return err
	}
	p.eng.emit(engine.StateChanged{Process: p, State: engine.StateRunning})
	return nil
}

func (p *Process) Stop() error {
	if err := p.signal(syscall.SIGSTOP); err != nil {
		return err
	}
	p.eng.emit(engine.StateChanged{Process: p, State: engine.StateStopped})
	return nil
}

func (p *Process) Kill() error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return fmt.Errorf("%w: process %d has exited", engine.ErrNoProcess, p.pid)
	}
	p.killed = true
	p.mu.Unlock()
	return p.cmd.Process.Kill()
}

func (p *Process) signal(sig syscall.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return fmt.Errorf("%w: process %d has exited", engine.ErrNoProcess, p.pid)
	}
	return p.cmd.Process.Signal(sig)
}

// watch relays terminal output until the pseudo-terminal closes, then reaps
// the process and reports how it ended.
func (p *Process) watch() {
	buf := make([]byte, 4096)
	for {
		n, err := p.pty.Read(buf)
		if n > 0 {
			p.eng.emit(engine.Output{Process: p, Stream: StreamTerminal, Text: string(buf[:n])})
		}
		if err != nil {
			break
		}
	}
	err := p.cmd.Wait()
	p.pty.Close()

	p.mu.Lock()
	p.exited = true
	state := exitState(err, p.killed)
	p.mu.Unlock()
	p.eng.forget(p.pid)
	p.eng.emit(engine.StateChanged{Process: p, State: state})
}

// exitState reports crashed for processes ended by a signal nobody asked for.
func exitState(err error, killed bool) engine.StateCode {
	var exitErr *exec.ExitError
	if killed || !errors.As(err, &exitErr) {
		return engine.StateExited
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return engine.StateCrashed
	}
	return engine.StateExited
}

type thread struct{}

func (thread) StepOver() error { return engine.ErrUnsupported }
func (thread) StepInto() error { return engine.ErrUnsupported }
func (thread) StepOut() error  { return engine.ErrUnsupported }
