// Package enginetest provides a scriptable engine for tests.
package enginetest

import (
	"fmt"
	"sync"
	"time"

	"github.com/rexliu/vlldb/pkg/engine"
)

// Engine records every call made to it and delivers events pushed with Emit.
type Engine struct {
	// LaunchErr, when set, fails every Launch.
	LaunchErr error
	// OpErr, when set, fails every process and thread operation.
	OpErr error

	mu       sync.Mutex
	events   chan engine.Event
	launches []engine.LaunchSpec
	calls    []string
	nextPID  int
	waits    int
}

// New returns an Engine with a buffered event queue.
func New() *Engine {
	return &Engine{events: make(chan engine.Event, 64), nextPID: 100}
}

// Launch records spec and returns a new Process with one thread.
func (e *Engine) Launch(spec engine.LaunchSpec) (engine.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launches = append(e.launches, spec)
	e.calls = append(e.calls, "launch")
	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}
	e.nextPID++
	return &Process{eng: e, pid: e.nextPID, threads: 1}, nil
}

// WaitForEvent returns the next emitted event or times out.
func (e *Engine) WaitForEvent(timeout time.Duration) (engine.Event, bool) {
	e.mu.Lock()
	e.waits++
	e.mu.Unlock()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-e.events:
		return ev, true
	case <-timer.C:
		return nil, false
	}
}

// Emit queues ev for the next WaitForEvent.
func (e *Engine) Emit(ev engine.Event) {
	e.events <- ev
}

// Launches returns a copy of every LaunchSpec received.
func (e *Engine) Launches() []engine.LaunchSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.LaunchSpec(nil), e.launches...)
}

// Calls returns the recorded operations, e.g. "launch" or "step_over:101".
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Waits returns how many times WaitForEvent was entered.
func (e *Engine) Waits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waits
}

// Close records a "close" call. Processes are not tracked, so there is
// nothing to kill.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "close")
	return nil
}

func (e *Engine) record(op string, pid int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, fmt.Sprintf("%s:%d", op, pid))
	return e.OpErr
}

// Process is a fake launched process.
type Process struct {
	eng     *Engine
	pid     int
	threads int
}

// NewProcess returns a process bound to e without going through Launch.
func NewProcess(e *Engine, pid int) *Process {
	return &Process{eng: e, pid: pid, threads: 1}
}

func (p *Process) ID() int { return p.pid }

func (p *Process) Thread(index int) (engine.Thread, error) {
	if index < 0 || index >= p.threads {
		return nil, fmt.Errorf("%w: %d", engine.ErrNoThread, index)
	}
	return &Thread{proc: p}, nil
}

func (p *Process) Continue() error { return p.eng.record("resume", p.pid) }
func (p *Process) Stop() error     { return p.eng.record("pause", p.pid) }
func (p *Process) Kill() error     { return p.eng.record("kill", p.pid) }

// Thread is a fake thread.
type Thread struct {
	proc *Process
}

func (t *Thread) StepOver() error { return t.proc.eng.record("step_over", t.proc.pid) }
func (t *Thread) StepInto() error { return t.proc.eng.record("step_into", t.proc.pid) }
func (t *Thread) StepOut() error  { return t.proc.eng.record("step_out", t.proc.pid) }
