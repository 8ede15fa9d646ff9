package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Command
		wantErr error
	}{
		{name: "start", payload: `{"command":{"type":"start"}}`, want: Command{Type: Start}},
		{name: "stop", payload: `{"command":{"type":"stop"}}`, want: Command{Type: Stop}},
		{name: "pause", payload: `{"command":{"type":"pause"}}`, want: Command{Type: Pause}},
		{name: "resume", payload: `{"command":{"type":"resume"}}`, want: Command{Type: Resume}},
		{name: "upper case type", payload: `{"command":{"type":"STOP"}}`, want: Command{Type: Stop}},
		{name: "reset statistics", payload: `{"command":{"type":"reset_statistics"}}`, want: Command{Type: ResetStatistics}},
		{name: "get statistics", payload: `{"command":{"type":"get_statistics"}}`, want: Command{Type: GetStatistics}},
		{name: "speed", payload: `{"command":{"type":"speed","value":3600}}`, want: Command{Type: Speed, Speed: 3600}},
		{name: "speed at maximum", payload: `{"command":{"type":"speed","value":4294967295}}`, want: Command{Type: Speed, Speed: 4294967295}},
		{name: "speed zero", payload: `{"command":{"type":"speed","value":0}}`, want: Command{Type: Speed}},
		{
			name:    "logging level",
			payload: `{"command":{"type":"global_logging_level","value":"debug"}}`,
			want:    Command{Type: GlobalLoggingLevel, Level: "debug"},
		},
		{
			name:    "logging level key",
			payload: `{"command":{"type":"global_logging_level","level":"warn"}}`,
			want:    Command{Type: GlobalLoggingLevel, Level: "warn"},
		},
		{name: "not json", payload: `start`, wantErr: ErrMalformed},
		{name: "no envelope", payload: `{"type":"start"}`, wantErr: ErrMalformed},
		{name: "empty type", payload: `{"command":{"type":""}}`, wantErr: ErrMalformed},
		{name: "unknown type", payload: `{"command":{"type":"rewind"}}`, wantErr: ErrUnknownType},
		{name: "speed without value", payload: `{"command":{"type":"speed"}}`, wantErr: ErrInvalidValue},
		{name: "speed null", payload: `{"command":{"type":"speed","value":null}}`, wantErr: ErrInvalidValue},
		{name: "negative speed", payload: `{"command":{"type":"speed","value":-5}}`, wantErr: ErrInvalidValue},
		{name: "speed above maximum", payload: `{"command":{"type":"speed","value":4294967296}}`, wantErr: ErrInvalidValue},
		{name: "speed overflowing duration", payload: `{"command":{"type":"speed","value":10000000000}}`, wantErr: ErrInvalidValue},
		{name: "string speed", payload: `{"command":{"type":"speed","value":"fast"}}`, wantErr: ErrInvalidValue},
		{name: "level without value", payload: `{"command":{"type":"global_logging_level"}}`, wantErr: ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.payload))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(Command{Type: Speed, Speed: 60})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":{"type":"speed","value":60}}`, string(data))

	data, err = Encode(Command{Type: GlobalLoggingLevel, Level: "info"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":{"type":"global_logging_level","level":"info"}}`, string(data))

	data, err = Encode(Command{Type: Start})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":{"type":"start"}}`, string(data))
}
