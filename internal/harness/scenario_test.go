package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/repo_channel.yaml")
	require.NoError(t, err)

	assert.Equal(t, "repo_channel", s.Name)
	assert.Equal(t, "box", s.Host)
	require.Len(t, s.Steps, 5)
	assert.Equal(t, OpRegister, s.Steps[0].Op)
	assert.Equal(t, "a", s.Steps[0].ClientID)
	require.NotNil(t, s.Steps[0].Expect)
	require.NotNil(t, s.Steps[0].Expect.Resumed)
	assert.False(t, *s.Steps[0].Expect.Resumed)
	assert.Equal(t, []string{"api_ready"}, s.Steps[3].Expect.EventTypes)
	require.NotNil(t, s.Steps[3].Expect.NextCursor)
	assert.Equal(t, int64(3), *s.Steps[3].Expect.NextCursor)
	assert.Len(t, s.Assertions, 4)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: typo
description: "misspelled key"
steps:
  - op: sweep
assertion:
  - type: sessions
`), 0644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps:\n  - op: sweep\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps:\n  - op: sweep\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "unknown op",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: subscribe\n",
			want: `unknown op "subscribe"`,
		},
		{
			name: "missing op",
			yaml: "name: n\ndescription: d\nsteps:\n  - session: a\n",
			want: "op is required",
		},
		{
			name: "advance without duration",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: advance\n",
			want: "advance needs a duration",
		},
		{
			name: "kill without pid",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: kill\n",
			want: "pid is required for kill",
		},
		{
			name: "bad timeout",
			yaml: "name: n\ndescription: d\nsession_timeout: soon\nsteps:\n  - op: sweep\n",
			want: "session_timeout",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: sweep\nassertions:\n  - type: final_state\n",
			want: `unknown assertion type "final_state"`,
		},
		{
			name: "trace_count without op",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: sweep\nassertions:\n  - type: trace_count\n    count: 1\n",
			want: "op is required for trace_count",
		},
		{
			name: "trace_order without ops",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: sweep\nassertions:\n  - type: trace_order\n",
			want: "ops list is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
