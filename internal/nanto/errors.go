package nanto

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Setup-ordering and toolchain-resolution failures
var (
	errSourceTreeMissing = errors.New("source tree does not exist")
	errToolchainNotFound = errors.New("no usable toolchain installation found")
	errEnvScriptMissing  = errors.New("environment script not found")
)

// ChecksumMismatchError reports a cached download whose digest does not
// match its manifest entry.
type ChecksumMismatchError struct {
	File string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("file checksum does not match: %s", e.File)
}

// UnremovablePathError lists pruning entries that could not be removed.
type UnremovablePathError struct {
	Paths []string
}

func (e *UnremovablePathError) Error() string {
	return fmt.Sprintf("files could not be pruned: %s", strings.Join(e.Paths, " "))
}

// BuildStepError reports a pipeline child process that exited non-zero.
type BuildStepError struct {
	Step     string
	ExitCode int
}

func (e *BuildStepError) Error() string {
	return fmt.Sprintf("%s failed with exit code %d", e.Step, e.ExitCode)
}

// BuildCancelledError reports a bounded-mode step that exceeded its
// deadline and was brought down, voluntarily or by force. It reflects an
// imposed time budget, not a build defect, and is reported as a
// cancellation rather than a failure.
type BuildCancelledError struct {
	Step     string
	Deadline time.Duration
	Forced   bool
}

func (e *BuildCancelledError) Error() string {
	how := "exited after interrupt"
	if e.Forced {
		how = "killed after grace period"
	}
	return fmt.Sprintf("%s cancelled after exceeding %s (%s)", e.Step, e.Deadline, how)
}
