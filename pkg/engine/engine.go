// Package engine describes the debug-engine capability the bridge drives.
//
// An Engine launches processes and reports what happens to them as events.
// The bridge calls Launch and the Process/Thread operations from its
// dispatcher goroutine and WaitForEvent from its relay goroutine, so
// implementations must allow those two goroutines to call in concurrently.
package engine

import (
	"errors"
	"time"
)

var (
	// ErrNoProcess is returned when an operation needs a launched process.
	ErrNoProcess = errors.New("no active process")
	// ErrNoThread is returned when a thread index does not exist.
	ErrNoThread = errors.New("no such thread")
	// ErrUnsupported is returned by engines that cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by engine")
)

// StateCode is a process state as reported by the engine. The numbering
// follows LLDB's StateType.
type StateCode int

const (
	StateInvalid StateCode = iota
	StateUnloaded
	StateConnected
	StateAttaching
	StateLaunching
	StateStopped
	StateRunning
	StateStepping
	StateCrashed
	StateDetached
	StateExited
	StateSuspended
)

// Terminal reports whether a process in this state is gone for good.
func (s StateCode) Terminal() bool {
	return s == StateExited || s == StateCrashed || s == StateDetached
}

// LaunchSpec carries everything needed to start a debuggee.
type LaunchSpec struct {
	Executable string
	// Args excludes the executable itself.
	Args []string
	// Env entries are KEY=VALUE. An empty list gives the target an empty
	// environment.
	Env        []string
	WorkingDir string
}

// Engine is the debugger back-end.
type Engine interface {
	// Launch starts a new process for spec.
	Launch(spec LaunchSpec) (Process, error)
	// WaitForEvent blocks for up to timeout and reports whether an event
	// arrived.
	WaitForEvent(timeout time.Duration) (Event, bool)
}

// Process is a launched debuggee.
type Process interface {
	ID() int
	Thread(index int) (Thread, error)
	Continue() error
	Stop() error
	Kill() error
}

// Thread is one thread of a Process.
type Thread interface {
	StepOver() error
	StepInto() error
	StepOut() error
}

// Event is something the engine reports asynchronously.
type Event interface {
	isEvent()
}

// StateChanged reports a new state for a process.
type StateChanged struct {
	Process Process
	State   StateCode
}

// Description is any other event, carried as human-readable text.
type Description struct {
	Text string
}

// Output is text written by the debuggee.
type Output struct {
	Process Process
	Stream  string
	Text    string
}

func (StateChanged) isEvent() {}
func (Description) isEvent()  {}
func (Output) isEvent()       {}
