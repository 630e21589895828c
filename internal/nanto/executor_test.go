package nanto

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRun(t *testing.T) {
	dir := t.TempDir()
	e := NewExecutor(context.Background())

	t.Run("clean exit", func(t *testing.T) {
		script := writeScript(t, dir, "ok.sh", "exit 0")
		require.NoError(t, e.Run("fixture", CommandInvocation{Binary: script}))
	})

	t.Run("non-zero exit surfaces as step error", func(t *testing.T) {
		script := writeScript(t, dir, "fail.sh", "exit 7")
		err := e.Run("fixture", CommandInvocation{Binary: script, Stdout: os.Stdout})
		var stepErr *BuildStepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "fixture", stepErr.Step)
		assert.Equal(t, 7, stepErr.ExitCode)
		assert.Contains(t, err.Error(), "exit code 7")
	})

	t.Run("empty invocation rejected", func(t *testing.T) {
		err := e.Run("fixture", CommandInvocation{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start fixture")
	})

	t.Run("stdout wires through", func(t *testing.T) {
		script := writeScript(t, dir, "say.sh", "echo hello")
		var buf bytes.Buffer
		require.NoError(t, e.Run("fixture", CommandInvocation{Binary: script, Stdout: &buf}))
		assert.Equal(t, "hello\n", buf.String())
	})

	t.Run("working directory honored", func(t *testing.T) {
		workDir := t.TempDir()
		script := writeScript(t, dir, "pwd.sh", "pwd")
		var buf bytes.Buffer
		require.NoError(t, e.Run("fixture", CommandInvocation{Binary: script, Dir: workDir, Stdout: &buf}))
		assert.Contains(t, buf.String(), workDir)
	})
}

func TestExecutorRunAborted(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	e := NewExecutor(ctx)

	script := writeScript(t, dir, "hang.sh", "sleep 30")
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := e.Run("fixture", CommandInvocation{Binary: script, Stdout: os.Stdout})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutorRunBounded(t *testing.T) {
	dir := t.TempDir()
	e := &Executor{
		Context:        context.Background(),
		InterruptCount: 2,
		InterruptGap:   30 * time.Millisecond,
		GracePeriod:    150 * time.Millisecond,
	}

	t.Run("finishes inside the deadline", func(t *testing.T) {
		script := writeScript(t, dir, "fast.sh", "exit 0")
		require.NoError(t, e.RunBounded("fixture", CommandInvocation{Binary: script}, 5*time.Second))
	})

	t.Run("non-zero exit inside the deadline is a step error", func(t *testing.T) {
		script := writeScript(t, dir, "fastfail.sh", "exit 3")
		err := e.RunBounded("fixture", CommandInvocation{Binary: script, Stdout: os.Stdout}, 5*time.Second)
		var stepErr *BuildStepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, 3, stepErr.ExitCode)
	})

	t.Run("cooperative exit after interrupt", func(t *testing.T) {
		script := writeScript(t, dir, "yield.sh", "trap 'exit 0' INT\nwhile :; do sleep 0.05; done")
		err := e.RunBounded("fixture", CommandInvocation{Binary: script, Stdout: os.Stdout}, 100*time.Millisecond)
		var cancelled *BuildCancelledError
		require.ErrorAs(t, err, &cancelled)
		assert.False(t, cancelled.Forced)
		assert.Equal(t, "fixture", cancelled.Step)
		assert.Equal(t, 100*time.Millisecond, cancelled.Deadline)
		assert.Contains(t, err.Error(), "exited after interrupt")
	})

	t.Run("stubborn child is killed after the grace period", func(t *testing.T) {
		script := writeScript(t, dir, "stubborn.sh", "trap '' INT\nwhile :; do sleep 0.05; done")
		start := time.Now()
		err := e.RunBounded("fixture", CommandInvocation{Binary: script, Stdout: os.Stdout}, 80*time.Millisecond)
		var cancelled *BuildCancelledError
		require.ErrorAs(t, err, &cancelled)
		assert.True(t, cancelled.Forced)
		assert.Contains(t, err.Error(), "killed after grace period")
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestRunQuiet(t *testing.T) {
	dir := t.TempDir()
	e := NewExecutor(context.Background())

	t.Run("trims output and discards stderr", func(t *testing.T) {
		script := writeScript(t, dir, "query.sh", "echo ' padded '\necho noise 1>&2")
		out, err := e.runQuiet(CommandInvocation{Binary: script})
		require.NoError(t, err)
		assert.Equal(t, "padded", out)
	})

	t.Run("merged environment reaches the child", func(t *testing.T) {
		script := writeScript(t, dir, "env.sh", `echo "$FIXTURE_VALUE"`)
		out, err := e.runQuiet(CommandInvocation{
			Binary: script,
			Env:    map[string]string{"FIXTURE_VALUE": "carried"},
		})
		require.NoError(t, err)
		assert.Equal(t, "carried", out)
	})

	t.Run("failure propagates", func(t *testing.T) {
		script := writeScript(t, dir, "bad.sh", "exit 1")
		_, err := e.runQuiet(CommandInvocation{Binary: script})
		require.Error(t, err)
	})
}

func TestMergedEnv(t *testing.T) {
	base := len(os.Environ())

	got := mergedEnv(nil)
	assert.Len(t, got, base)

	got = mergedEnv(map[string]string{"ZFIXTURE": "2", "AFIXTURE": "1"})
	require.Len(t, got, base+2)
	// Extra keys are appended in sorted order, after the parent environment.
	assert.Equal(t, "AFIXTURE=1", got[base])
	assert.Equal(t, "ZFIXTURE=2", got[base+1])
}

func TestNormalizeWaitError(t *testing.T) {
	err := normalizeWaitError("step", errors.New("plain"))
	var stepErr *BuildStepError
	assert.False(t, errors.As(err, &stepErr))
	assert.Contains(t, err.Error(), "step")
}
