package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", stdout)
}

func TestGGACommand_RejectsLatitude(t *testing.T) {
	_, _, err := executeCLI(t, "gga", "--lat", "95")
	require.EqualError(t, err, "--lat must be in [-90,90]")
}

func TestRunCommand_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ntrip: {}\n"), 0o644))

	_, _, err := executeCLI(t, "run", "--config", path)
	require.EqualError(t, err, "ntrip.host is required")
}
