package core

// CommandType is the value of a command's "type" field.
type CommandType string

const (
	TypeLaunch   CommandType = "launch"
	TypeStepOver CommandType = "step_over"
	TypeStepInto CommandType = "step_into"
	TypeStepOut  CommandType = "step_out"
	TypeKill     CommandType = "kill"
	TypeResume   CommandType = "resume"
	TypePause    CommandType = "pause"
)

// Command is a validated request from the editor.
type Command interface {
	Type() CommandType
	isCommand()
}

// Launch starts a debuggee.
type Launch struct {
	Executable   string
	Arguments    []string
	WorkingDir   string
	Environments []string
}

// StepOver steps the current thread over a call.
type StepOver struct{}

// StepInto steps the current thread into a call.
type StepInto struct{}

// StepOut runs the current thread until its frame returns.
type StepOut struct{}

// Kill terminates the active process.
type Kill struct{}

// Resume continues a stopped process.
type Resume struct{}

// Pause interrupts a running process.
type Pause struct{}

func (Launch) Type() CommandType   { return TypeLaunch }
func (StepOver) Type() CommandType { return TypeStepOver }
func (StepInto) Type() CommandType { return TypeStepInto }
func (StepOut) Type() CommandType  { return TypeStepOut }
func (Kill) Type() CommandType     { return TypeKill }
func (Resume) Type() CommandType   { return TypeResume }
func (Pause) Type() CommandType    { return TypePause }

func (Launch) isCommand()   {}
func (StepOver) isCommand() {}
func (StepInto) isCommand() {}
func (StepOut) isCommand()  {}
func (Kill) isCommand()     {}
func (Resume) isCommand()   {}
func (Pause) isCommand()    {}

// Event names carried in the "event" field of outbound messages.
const (
	EventStateChanged = "state-changed"
	EventOutput       = "output"
	EventError        = "error"
)

// Event is a notification for the editor.
type Event interface {
	isEvent()
}

// StateChanged reports a process state by name.
type StateChanged struct {
	State string
}

// Description is free-form text used when no structured shape applies.
type Description struct {
	Text string
}

// Output carries text the debuggee wrote to one of its streams.
type Output struct {
	Stream string
	Text   string
}

// Failure reports that the engine rejected a command.
type Failure struct {
	Command CommandType
	Message string
}

func (StateChanged) isEvent() {}
func (Description) isEvent()  {}
func (Output) isEvent()       {}
func (Failure) isEvent()      {}
