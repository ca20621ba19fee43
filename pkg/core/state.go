package core

import (
	"errors"
	"fmt"

	"github.com/rexliu/vlldb/pkg/engine"
)

// ErrUnmappedState indicates an engine state code with no published name.
// It is a programming error in the engine, not a runtime condition.
var ErrUnmappedState = errors.New("unmapped process state")

var stateNames = [...]string{
	engine.StateInvalid:   "invalid",
	engine.StateUnloaded:  "unloaded",
	engine.StateConnected: "connected",
	engine.StateAttaching: "attaching",
	engine.StateLaunching: "launching",
	engine.StateStopped:   "stopped",
	engine.StateRunning:   "running",
	engine.StateStepping:  "stepping",
	engine.StateCrashed:   "crashed",
	engine.StateDetached:  "detached",
	engine.StateExited:    "exited",
	engine.StateSuspended: "suspended",
}

// StateName returns the wire name of code.
func StateName(code engine.StateCode) (string, error) {
	if code < 0 || int(code) >= len(stateNames) {
		return "", fmt.Errorf("%w: %d", ErrUnmappedState, int(code))
	}
	return stateNames[code], nil
}

// ParseState is the inverse of StateName.
func ParseState(name string) (engine.StateCode, bool) {
	for code, n := range stateNames {
		if n == name {
			return engine.StateCode(code), true
		}
	}
	return 0, false
}
