package nanto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"
)

// CommandInvocation describes one build command: the binary, its ordered
// arguments, the directory it runs in, and extra environment merged over
// the parent's. Commands never pass through a shell; binaries below the
// source tree must be given as absolute paths.
type CommandInvocation struct {
	Binary string
	Args   []string
	Dir    string
	Env    map[string]string
	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
}

// Executor runs build commands, isolating each child in its own process
// group so that cancellation reaches the whole process tree.
type Executor struct {
	Context context.Context // The context to use for cancellation

	// Bounded-mode escalation knobs; zero values take the defaults.
	InterruptCount int           // cooperative interrupts sent after the deadline
	InterruptGap   time.Duration // pause between interrupts
	GracePeriod    time.Duration // wait for voluntary exit before the hard kill
}

const (
	defaultInterruptCount = 3
	defaultInterruptGap   = time.Second
	defaultGracePeriod    = 10 * time.Second
)

func NewExecutor(ctx context.Context) *Executor {
	return &Executor{Context: ctx}
}

// prepare builds the final *exec.Cmd: stdio wired, environment merged,
// process group isolated.
func (e *Executor) prepare(inv CommandInvocation) (*exec.Cmd, error) {
	if inv.Binary == "" {
		return nil, errors.New("empty command invocation")
	}

	cmd := exec.Command(inv.Binary, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = mergedEnv(inv.Env)

	cmd.Stdin = os.Stdin
	cmd.Stdout = inv.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = inv.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}

// Run executes inv in blocking mode, waiting indefinitely for completion.
// A non-zero exit surfaces as *BuildStepError; context cancellation kills
// the process group.
func (e *Executor) Run(step string, inv CommandInvocation) error {
	finalCmd, err := e.prepare(inv)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", step, err)
	}

	if err := finalCmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", step, err)
	}
	pgid := finalCmd.Process.Pid

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-e.Context.Done():
			syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()

	if waitErr := finalCmd.Wait(); waitErr != nil {
		if e.Context.Err() != nil {
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("%s aborted: %v", step, e.Context.Err())
		}
		return normalizeWaitError(step, waitErr)
	}
	return nil
}

// RunBounded executes inv with a deadline. When the deadline elapses the
// child's group is sent cooperative interrupts, given a grace period to
// exit on its own, then killed. Either way the step returns
// *BuildCancelledError, distinct from a build failure.
func (e *Executor) RunBounded(step string, inv CommandInvocation, deadline time.Duration) error {
	finalCmd, err := e.prepare(inv)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", step, err)
	}

	if err := finalCmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", step, err)
	}
	pgid := finalCmd.Process.Pid

	waitCh := make(chan error, 1)
	go func() { waitCh <- finalCmd.Wait() }()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case waitErr := <-waitCh:
		if waitErr != nil {
			return normalizeWaitError(step, waitErr)
		}
		return nil
	case <-e.Context.Done():
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-waitCh
		time.Sleep(100 * time.Millisecond)
		return fmt.Errorf("%s aborted: %v", step, e.Context.Err())
	case <-timer.C:
		cPrintf(colWarn, "Deadline of %s exceeded, sending interrupt\n", deadline)
		forced := e.stopGroup(pgid, waitCh)
		return &BuildCancelledError{Step: step, Deadline: deadline, Forced: forced}
	}
}

// stopGroup walks the cancellation phases: repeated interrupts so children
// that swallow the first signal still see one, a grace wait, then SIGKILL.
// Returns true when the group had to be killed.
func (e *Executor) stopGroup(pgid int, waitCh <-chan error) bool {
	count := e.InterruptCount
	if count <= 0 {
		count = defaultInterruptCount
	}
	gap := e.InterruptGap
	if gap <= 0 {
		gap = defaultInterruptGap
	}
	grace := e.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	for i := 0; i < count; i++ {
		syscall.Kill(-pgid, syscall.SIGINT)
		select {
		case <-waitCh:
			return false
		case <-time.After(gap):
		}
	}

	select {
	case <-waitCh:
		return false
	case <-time.After(grace):
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-waitCh
		return true
	}
}

// normalizeWaitError maps a Wait failure to the step error taxonomy.
func normalizeWaitError(step string, waitErr error) error {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &BuildStepError{Step: step, ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("%s: %w", step, waitErr)
}

// mergedEnv layers extra over the parent environment. Keys are appended in
// sorted order; for duplicate keys the appended value wins.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	if len(extra) == 0 {
		return env
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// runQuiet executes a short helper command and returns its trimmed stdout,
// for query programs whose output feeds later steps.
func (e *Executor) runQuiet(inv CommandInvocation) (string, error) {
	cmd, err := e.prepare(inv)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = io.Discard
	cmd.Stdin = nil

	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}
