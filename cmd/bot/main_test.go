package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsBotPremium/internal/domain"
)

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(domain.ExitKillEverything, nil))
	assert.Equal(t, 1, exitCodeFor(domain.ExitRestartCluster, nil))
	assert.Equal(t, 2, exitCodeFor(domain.ExitDoNotRestart, nil))
	assert.Equal(t, 2, exitCodeFor(domain.ExitRestartCluster, errors.New("boom")))
}

func TestRootCommand_BadConfigIsNotRestarted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("main: [unclosed\n"), 0o600))

	exitCode := int(domain.ExitKillEverything)
	cmd := newRootCommand(&exitCode)
	cmd.SetArgs([]string{"--config", path, "--cluster-id", "0"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	require.Error(t, cmd.Execute())
	assert.Equal(t, int(domain.ExitDoNotRestart), exitCode)
}
