package core

import (
	"fmt"

	"github.com/rexliu/vlldb/pkg/msg"
)

// EncodeCommand appends the wire form of cmd to b.
func EncodeCommand(b *msg.Buffer, cmd Command) {
	launch, ok := cmd.(Launch)
	if !ok {
		msg.AppendStructHeader(b, 1)
		msg.AppendKey(b, "type")
		msg.AppendString(b, string(cmd.Type()))
		return
	}
	msg.AppendStructHeader(b, 5)
	msg.AppendKey(b, "type")
	msg.AppendKey(b, "executable")
	msg.AppendKey(b, "arguments")
	msg.AppendKey(b, "working_dir")
	msg.AppendKey(b, "environments")
	msg.AppendString(b, string(TypeLaunch))
	msg.AppendString(b, launch.Executable)
	appendStrings(b, launch.Arguments)
	msg.AppendString(b, launch.WorkingDir)
	appendStrings(b, launch.Environments)
}

// EncodeEvent appends the wire form of ev to b.
func EncodeEvent(b *msg.Buffer, ev Event) {
	switch ev := ev.(type) {
	case StateChanged:
		appendStringStruct(b, "event", EventStateChanged, "state", ev.State)
	case Description:
		appendStringStruct(b, "event", ev.Text)
	case Output:
		appendStringStruct(b, "event", EventOutput, "stream", ev.Stream, "text", ev.Text)
	case Failure:
		appendStringStruct(b, "event", EventError, "command", string(ev.Command), "message", ev.Message)
	default:
		panic(fmt.Sprintf("core: cannot encode event %T", ev))
	}
}

// ParseEvent projects a decoded outbound value back onto an Event. Anything
// that does not match a structured shape is a Description.
func ParseEvent(v msg.Value) (Event, error) {
	s, ok := v.(msg.Struct)
	if !ok {
		return nil, fmt.Errorf("%w: event is %s, want struct", ErrFieldType, v.Tag())
	}
	name, err := stringField(s, "event")
	if err != nil {
		return nil, err
	}
	switch name {
	case EventStateChanged:
		if state, err := stringField(s, "state"); err == nil {
			return StateChanged{State: state}, nil
		}
	case EventOutput:
		stream, err1 := stringField(s, "stream")
		text, err2 := stringField(s, "text")
		if err1 == nil && err2 == nil {
			return Output{Stream: stream, Text: text}, nil
		}
	case EventError:
		command, err1 := stringField(s, "command")
		message, err2 := stringField(s, "message")
		if err1 == nil && err2 == nil {
			return Failure{Command: CommandType(command), Message: message}, nil
		}
	}
	return Description{Text: name}, nil
}

func appendStrings(b *msg.Buffer, list []string) {
	msg.AppendArrayHeader(b, len(list))
	for _, s := range list {
		msg.AppendString(b, s)
	}
}

// appendStringStruct writes a struct of string fields given as alternating
// key, value arguments.
func appendStringStruct(b *msg.Buffer, kv ...string) {
	n := len(kv) / 2
	msg.AppendStructHeader(b, n)
	for i := 0; i < n; i++ {
		msg.AppendKey(b, kv[2*i])
	}
	for i := 0; i < n; i++ {
		msg.AppendString(b, kv[2*i+1])
	}
}
