// Package command decodes simulation control commands.
//
// Commands arrive as JSON envelopes:
//
//	{"command": {"type": "speed", "value": 3600}}
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethpandaops/kpisim/pkg/clock"
)

// Type is a command name.
type Type string

// Known command types.
const (
	Start              Type = "start"
	Stop               Type = "stop"
	Pause              Type = "pause"
	Resume             Type = "resume"
	Speed              Type = "speed"
	ResetStatistics    Type = "reset_statistics"
	GetStatistics      Type = "get_statistics"
	GlobalLoggingLevel Type = "global_logging_level"
)

var (
	// ErrMalformed is returned for payloads that are not a command envelope
	ErrMalformed = errors.New("malformed command")
	// ErrUnknownType is returned for unrecognized command types
	ErrUnknownType = errors.New("unknown command type")
	// ErrInvalidValue is returned when a command value is missing or has the wrong type
	ErrInvalidValue = errors.New("invalid command value")
)

// Command is a decoded control command.
type Command struct {
	Type Type
	// Speed is set for Speed commands.
	Speed uint64
	// Level is set for GlobalLoggingLevel commands.
	Level string
}

type envelope struct {
	Command *struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
		Level string          `json:"level"`
	} `json:"command"`
}

// Decode parses a command envelope.
func Decode(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if env.Command == nil || env.Command.Type == "" {
		return Command{}, fmt.Errorf("%w: missing command type", ErrMalformed)
	}

	cmd := Command{Type: Type(strings.ToLower(env.Command.Type))}
	value := bytes.TrimSpace(env.Command.Value)

	switch cmd.Type {
	case Start, Stop, Pause, Resume, ResetStatistics, GetStatistics:
		return cmd, nil
	case Speed:
		if len(value) == 0 || bytes.Equal(value, []byte("null")) {
			return Command{}, fmt.Errorf("%w: speed requires a value", ErrInvalidValue)
		}

		if err := json.Unmarshal(value, &cmd.Speed); err != nil {
			return Command{}, fmt.Errorf("%w: speed must be a non-negative integer: %w", ErrInvalidValue, err)
		}

		if cmd.Speed > clock.MaxSpeed {
			return Command{}, fmt.Errorf("%w: speed must not exceed %d", ErrInvalidValue, clock.MaxSpeed)
		}

		return cmd, nil
	case GlobalLoggingLevel:
		cmd.Level = env.Command.Level
		if cmd.Level == "" && len(value) > 0 {
			_ = json.Unmarshal(value, &cmd.Level)
		}

		if cmd.Level == "" {
			return Command{}, fmt.Errorf("%w: logging level must be a non-empty string", ErrInvalidValue)
		}

		return cmd, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Command.Type)
	}
}

// Encode renders cmd as a command envelope.
func Encode(cmd Command) ([]byte, error) {
	inner := map[string]any{"type": cmd.Type}

	switch cmd.Type {
	case Speed:
		inner["value"] = cmd.Speed
	case GlobalLoggingLevel:
		inner["level"] = cmd.Level
	}

	return json.Marshal(map[string]any{"command": inner})
}
