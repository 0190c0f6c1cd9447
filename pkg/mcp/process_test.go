package mcp

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/devorch/pkg/types"
)

func TestSpawn_MissingExecutable(t *testing.T) {
	_, err := Spawn(types.ServerDescriptor{Name: "ghost", Command: "/nonexistent/devorch-provider"}, zerolog.Nop())
	require.Error(t, err)

	var se *SpawnError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "ghost", se.Server)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestSpawn_InvalidDescriptor(t *testing.T) {
	_, err := Spawn(types.ServerDescriptor{Name: "empty"}, zerolog.Nop())
	var se *SpawnError
	require.True(t, errors.As(err, &se))
}

func TestProcess_ExitCodeAndStderrTail(t *testing.T) {
	p, err := Spawn(helperDescriptor("crashy", "exit"), zerolog.Nop())
	require.NoError(t, err)

	select {
	case <-p.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Equal(t, 1, p.ExitCode())
	assert.Greater(t, p.PID(), 0)

	require.Eventually(t, func() bool {
		return p.StderrTail() != ""
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, p.StderrTail(), "missing API key")

	// Terminating an exited process is a no-op.
	assert.NoError(t, p.Terminate(time.Second))
}

func TestProcess_TerminateGraceful(t *testing.T) {
	p, err := Spawn(helperDescriptor("fs", "ok"), zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Terminate(5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-p.Exited():
	default:
		t.Fatal("Exited should be closed after Terminate")
	}
	// Idempotent.
	require.NoError(t, p.Terminate(5*time.Second))
}

func TestProcess_TerminateKillsAfterGrace(t *testing.T) {
	p, err := Spawn(helperDescriptor("stubborn", "ignoreterm"), zerolog.Nop())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.StderrTail() != ""
	}, 10*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Terminate(200*time.Millisecond))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 10*time.Second)
	assert.Equal(t, -1, p.ExitCode())
}
