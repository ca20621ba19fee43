package core

import (
	"errors"
	"fmt"

	"github.com/rexliu/vlldb/pkg/msg"
)

var (
	// ErrMissingField indicates a required struct key is absent.
	ErrMissingField = errors.New("missing field")
	// ErrFieldType indicates a value of the wrong variant.
	ErrFieldType = errors.New("wrong field type")
	// ErrUnknownCommand indicates a "type" outside the known command set.
	ErrUnknownCommand = errors.New("unknown command")
)

// ParseCommand projects a decoded value onto a Command. The value must be a
// Struct with a string "type"; field lookups take the first matching key.
func ParseCommand(v msg.Value) (Command, error) {
	s, ok := v.(msg.Struct)
	if !ok {
		return nil, fmt.Errorf("%w: command is %s, want struct", ErrFieldType, v.Tag())
	}
	typ, err := stringField(s, "type")
	if err != nil {
		return nil, err
	}
	switch CommandType(typ) {
	case TypeLaunch:
		return parseLaunch(s)
	case TypeStepOver:
		return StepOver{}, nil
	case TypeStepInto:
		return StepInto{}, nil
	case TypeStepOut:
		return StepOut{}, nil
	case TypeKill:
		return Kill{}, nil
	case TypeResume:
		return Resume{}, nil
	case TypePause:
		return Pause{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, typ)
	}
}

func parseLaunch(s msg.Struct) (Command, error) {
	var (
		cmd Launch
		err error
	)
	if cmd.Executable, err = stringField(s, "executable"); err != nil {
		return nil, err
	}
	if cmd.Arguments, err = stringListField(s, "arguments"); err != nil {
		return nil, err
	}
	if cmd.WorkingDir, err = stringField(s, "working_dir"); err != nil {
		return nil, err
	}
	if cmd.Environments, err = stringListField(s, "environments"); err != nil {
		return nil, err
	}
	return cmd, nil
}

func field(s msg.Struct, name string) (msg.Value, error) {
	v, ok := s.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return v, nil
}

func stringField(s msg.Struct, name string) (string, error) {
	v, err := field(s, name)
	if err != nil {
		return "", err
	}
	str, ok := v.(msg.Str)
	if !ok {
		return "", fmt.Errorf("%w: %s is %s, want string", ErrFieldType, name, v.Tag())
	}
	return string(str), nil
}

func stringListField(s msg.Struct, name string) ([]string, error) {
	v, err := field(s, name)
	if err != nil {
		return nil, err
	}
	arr, ok := v.(msg.Arr)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s, want array", ErrFieldType, name, v.Tag())
	}
	out := make([]string, len(arr))
	for i, elem := range arr {
		str, ok := elem.(msg.Str)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is %s, want string", ErrFieldType, name, i, elem.Tag())
		}
		out[i] = string(str)
	}
	return out, nil
}
