package nanto

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gookit/color"
)

// commandRunner is the surface the pipeline drives build steps through.
// *Executor satisfies it; tests substitute a recording fake.
type commandRunner interface {
	Run(step string, inv CommandInvocation) error
	RunBounded(step string, inv CommandInvocation, deadline time.Duration) error
	runQuiet(inv CommandInvocation) (string, error)
}

// BuildOptions captures the build entry point's flags.
type BuildOptions struct {
	Arch        string // target selector, one of archDefault/archX86/archARM64
	CI          bool   // bounded compile and packaging
	SkipGN      bool
	SkipBindgen bool
	ForceGN     bool // regenerate build files even when the bootstrap binary exists
	Quiet       bool
}

// Pipeline drives the full provisioning and build sequence for one
// invocation. Steps run strictly in order; every step's side effects are
// on disk before the next begins, and any failure aborts the remainder.
type Pipeline struct {
	Runner commandRunner
	Tree   string
	Opts   BuildOptions
}

// Named preconditions. Each gates one pipeline step and is checkable on
// its own; presence of the artifact on disk is the whole truth.
func sourceTreePresent(tree string) bool {
	return dirExists(tree)
}

func gnBootstrapped(tree string) bool {
	return fileExists(filepath.Join(tree, outDirRel, "gn"))
}

func bindgenBuilt(tree string) bool {
	return fileExists(filepath.Join(tree, rustToolchainRel, "bin", "bindgen"))
}

// Run executes the sequence: tree check, toolchain, build config, GN
// bootstrap and generation, bindgen, then the compile. In CI the compile
// runs bounded and a packaging pass follows.
func (p *Pipeline) Run() error {
	if !sourceTreePresent(p.Tree) {
		return fmt.Errorf("%w at %s, run the update step first", errSourceTreeMissing, p.Tree)
	}

	if err := ensureRustToolchain(p.Runner, p.Tree); err != nil {
		return err
	}
	if err := ensureBuildConfig(p.Tree, p.Opts.Arch); err != nil {
		return err
	}

	// The bootstrap pair is skipped when its output binary already exists,
	// even without -skip-gn; -force-gn overrides that coupling.
	if !p.Opts.SkipGN && (p.Opts.ForceGN || !gnBootstrapped(p.Tree)) {
		stepf("Running GN bootstrap")
		if err := p.runStep("GN bootstrap", CommandInvocation{
			Binary: pythonBin,
			Args:   []string{"tools/gn/bootstrap/bootstrap.py", "-o", filepath.Join(outDirRel, "gn"), "--skip-generate-buildfiles"},
			Dir:    p.Tree,
		}); err != nil {
			return err
		}

		stepf("Running GN gen")
		if err := p.runStep("GN gen", CommandInvocation{
			Binary: filepath.Join(p.Tree, outDirRel, "gn"),
			Args:   []string{"gen", outDirRel, "--fail-on-unused-args"},
			Dir:    p.Tree,
		}); err != nil {
			return err
		}
	}

	if !p.Opts.SkipBindgen && !bindgenBuilt(p.Tree) {
		stepf("Building bindgen")
		if err := p.runStep("bindgen build", CommandInvocation{
			Binary: pythonBin,
			Args:   []string{"tools/rust/build_bindgen.py"},
			Dir:    p.Tree,
		}); err != nil {
			return err
		}
	}

	if err := p.compile(); err != nil {
		return err
	}

	if p.Opts.CI {
		p.packageBuild()
	}

	stepf("Build completed successfully")
	return nil
}

// runStep resolves the toolchain environment fresh and executes one
// blocking step. Resolution is per step: installed toolchains are queried
// again rather than trusted from an earlier command.
func (p *Pipeline) runStep(step string, inv CommandInvocation) error {
	env, err := buildEnvironment(p.Runner)
	if err != nil {
		return err
	}
	inv.Env = env
	return p.Runner.Run(step, inv)
}

// compile runs the main ninja pass over the requested targets, teeing
// output to a log that is xz-compressed afterwards. CI runs bounded by
// the configured deadline; everywhere else it waits as long as it takes.
func (p *Pipeline) compile() error {
	env, err := buildEnvironment(p.Runner)
	if err != nil {
		return err
	}

	inv := CommandInvocation{
		Binary: filepath.Join(p.Tree, "third_party", "ninja", "ninja"),
		Args:   append([]string{"-C", outDirRel}, compileTargets...),
		Dir:    p.Tree,
		Env:    env,
	}

	logPath, logFile := p.openCompileLog()
	if logFile != nil {
		inv.Stdout = io.MultiWriter(os.Stdout, logFile)
		inv.Stderr = inv.Stdout
	}

	stepf("Running ninja build")
	startTime := time.Now()
	stopTicker := p.startElapsedTicker(startTime)

	var runErr error
	if p.Opts.CI {
		runErr = p.Runner.RunBounded("compile", inv, ciDeadline)
	} else {
		runErr = p.Runner.Run("compile", inv)
	}

	stopTicker()
	if logFile != nil {
		logFile.Close()
	}

	if runErr != nil {
		var cancelled *BuildCancelledError
		if errors.As(runErr, &cancelled) {
			cPrintf(colWarn, "Compile stopped by its time budget: %v\n", cancelled)
		} else {
			colArrow.Print("-> ")
			color.Danger.Printf("Compile failed: %v\n", runErr)
			if logPath != "" {
				printLogTail(logPath, 50)
			}
		}
		p.archiveCompileLog(logPath)
		return runErr
	}

	p.archiveCompileLog(logPath)
	elapsed := time.Since(startTime).Truncate(time.Second)
	stepf("Compile finished in %s", elapsed)
	return nil
}

// packageBuild invokes the external packaging collaborator. Its failure is
// reported but never undoes the compile's success.
func (p *Pipeline) packageBuild() {
	stepf("Packaging build")
	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)

	inv := CommandInvocation{Binary: packageCmd[0], Args: packageCmd[1:], Dir: rootDir}
	if err := p.Runner.Run("packaging", inv); err != nil {
		cPrintf(colWarn, "Packaging failed: %v\n", err)
		return
	}

	if bucketName != "" {
		if err := ciUploadArtifacts(); err != nil {
			cPrintf(colWarn, "Artifact upload failed: %v\n", err)
		}
	}
}

// openCompileLog creates the timestamped compile log. A log failure is
// not fatal; the compile still streams to the console.
func (p *Pipeline) openCompileLog() (string, *os.File) {
	if err := ensureDir(logsDir); err != nil {
		debugf("cannot create log dir: %v\n", err)
		return "", nil
	}
	logPath := filepath.Join(logsDir, "build-"+time.Now().Format("20060102-150405")+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		debugf("cannot create compile log: %v\n", err)
		return "", nil
	}
	return logPath, logFile
}

// archiveCompileLog compresses the finished log to .xz and drops the raw
// file, keeping the logs directory viewable with the log subcommand.
func (p *Pipeline) archiveCompileLog(logPath string) {
	if logPath == "" {
		return
	}
	if err := compressLogFile(logPath, logPath+".xz"); err != nil {
		debugf("log compression failed: %v\n", err)
		return
	}
	os.Remove(logPath)
}

// startElapsedTicker updates the terminal title and prints a rolling
// elapsed line while the compile runs. Returns a stop function.
func (p *Pipeline) startElapsedTicker(startTime time.Time) func() {
	// \033]0; sets the title, and \a (bell character) terminates the sequence.
	const setTitleFormat = "\033]0;%s\a"

	setTerminalTitle := func(title string) {
		if !p.Opts.Quiet && stdoutIsTerminal() {
			fmt.Printf(setTitleFormat, title)
		}
	}

	setTerminalTitle("Compiling")
	doneCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				elapsed := time.Since(startTime).Truncate(time.Second)
				setTerminalTitle(fmt.Sprintf("Compiling elapsed: %s", elapsed))
				if !Verbose && !p.Opts.Quiet && stdoutIsTerminal() {
					colArrow.Print("-> ")
					colSuccess.Printf("Compiling elapsed: %s\r", elapsed)
				}
			case <-doneCh:
				fmt.Print("\r")
				return
			}
		}
	}()

	return func() {
		close(doneCh)
		wg.Wait()
	}
}

// printLogTail prints the last n lines of a failed compile's log so the
// operator sees the defect without opening the archive.
func printLogTail(logPath string, n int) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return
	}
	lines := splitLines(string(data))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
}

// buildCommand is the build entry point behind the CLI flags.
func buildCommand(opts BuildOptions) error {
	p := &Pipeline{Runner: Exec, Tree: sourceTree, Opts: opts}
	return p.Run()
}
