package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestCommandsAreRegistered(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "run", "schedule", "report"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRunRequiresCategory(t *testing.T) {
	err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"category" not set`)
}

func TestScheduleRejectsBadTimes(t *testing.T) {
	err := execute(t, "schedule", "-c", "patientstudy", "--start", "tonight", "--end", "2026-01-02T02:00:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid --start "tonight"`)

	err = execute(t, "schedule", "-c", "patientstudy", "--start", "2026-01-01T22:00:00Z", "--end", "later")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid --end "later"`)
}

func TestEmbeddedConfigIsPresent(t *testing.T) {
	assert.Contains(t, string(embeddedConfig), "categories:")
}
