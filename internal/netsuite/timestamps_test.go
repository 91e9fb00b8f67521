package netsuite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemoteTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{
			name:  "rfc3339 utc",
			input: "2026-01-10T12:30:00Z",
			want:  time.Date(2026, 1, 10, 12, 30, 0, 0, time.UTC),
		},
		{
			name:  "iso with offset",
			input: "2026-01-10T07:30:00.000-05:00",
			want:  time.Date(2026, 1, 10, 12, 30, 0, 0, time.UTC),
		},
		{
			name:  "datetime without zone",
			input: "2026-01-10 12:30:00",
			want:  time.Date(2026, 1, 10, 12, 30, 0, 0, time.UTC),
		},
		{
			name:  "us locale pm",
			input: "1/10/2026 12:30 pm",
			want:  time.Date(2026, 1, 10, 12, 30, 0, 0, time.UTC),
		},
		{
			name:  "us locale with seconds",
			input: "1/10/2026 12:30:45 pm",
			want:  time.Date(2026, 1, 10, 12, 30, 45, 0, time.UTC),
		},
		{
			name:  "us locale uppercase pm",
			input: "1/10/2026 3:45 PM",
			want:  time.Date(2026, 1, 10, 15, 45, 0, 0, time.UTC),
		},
		{
			name:  "us locale uppercase with seconds",
			input: "1/10/2026 3:45:10 PM",
			want:  time.Date(2026, 1, 10, 15, 45, 10, 0, time.UTC),
		},
		{
			name:  "surrounding whitespace",
			input: "  2026-01-10T12:30:00Z  ",
			want:  time.Date(2026, 1, 10, 12, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRemoteTime(tt.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseRemoteTime_Errors(t *testing.T) {
	for _, input := range []string{"", "   ", "not a date", "32/13/2026 99:99"} {
		_, err := ParseRemoteTime(input)
		assert.Error(t, err, "input %q", input)
	}
}
