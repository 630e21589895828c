package nanto

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: nanto <command> [arguments]")
	colSuccess.Println("Run 'nanto <command> -h' for command options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"update, u", "[options]", "Fetch or clone the browser source and platform files"},
		{"patch, p", "[-tarball]", "Prune binaries, apply patch series and substitute domains"},
		{"build, b", "[options]", "Provision the toolchain, generate build files and compile"},
		{"log", "[name|latest]", "List archived compile logs or view one"},
		{"check", "[-timeout d]", "Smoke-launch the built browser and print its version"},
		{"upload", "[options]", "Publish packaging artifacts and update the remote index"},
		{"clean", "[options]", "Remove the source tree, download cache or compile logs"},
		{"help", "", "Show this help"},
	}

	// Find the longest usage string to calculate the first column's width.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++ // Account for the space
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))

		color.Info.Println(c.Desc)
	}

	fmt.Println()
}

// Main is the CLI entrypoint for cmd/nanto.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					// --- CRITICAL PHASE: block the 1st signal, force exit on the 2nd ---
					colArrow.Print("\n-> ")
					colError.Printf("Critical operation in progress (packaging or upload). Press Ctrl+C AGAIN to force exit NOW.\n")

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.")
						os.Exit(130) // Common exit code for SIGINT
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					// --- NON-CRITICAL PHASE: graceful cancellation ---
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
					cancel()

					// Give the child a moment to die and flush its buffers
					time.Sleep(100 * time.Millisecond)

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.")
						os.Exit(0)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if p := os.Getenv("NANTO_CONF"); p != "" {
		configPath = p
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", configPath, err)
	}
	initConfig(cfg)

	Exec = NewExecutor(ctx)

	var exitCode int

	switch os.Args[1] {
	case "update", "u":
		updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
		var insecure = updateCmd.Bool("disable-ssl-verification", false, "Disable TLS certificate verification for downloads.")
		var sevenZip = updateCmd.String("sevenzip", "", "Command or path to the 7z binary. Defaults to a PATH lookup.")
		var winRAR = updateCmd.String("winrar", "", "Command or path to the unrar binary. Defaults to a PATH lookup.")
		var tarball = updateCmd.Bool("tarball", false, "Download the source from a tarball instead of cloning.")
		var x86 = updateCmd.Bool("x86", false, "Target the x86 architecture.")
		var arm = updateCmd.Bool("arm", false, "Target the ARM64 architecture.")
		if err := updateCmd.Parse(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing update flags: %v\n", err)
			os.Exit(1)
		}
		opts := UpdateOptions{
			DisableSSLVerify: *insecure,
			SevenZip:         *sevenZip,
			WinRAR:           *winRAR,
			Tarball:          *tarball,
			X86:              *x86,
			ARM:              *arm,
		}
		if err := updateSource(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
			os.Exit(1)
		}

	case "patch", "p":
		patchCmd := flag.NewFlagSet("patch", flag.ExitOnError)
		var tarball = patchCmd.Bool("tarball", false, "Use the full upstream pruning and substitution lists.")
		if err := patchCmd.Parse(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing patch flags: %v\n", err)
			os.Exit(1)
		}
		if err := patchSource(Exec, PatchOptions{Tarball: *tarball}); err != nil {
			if errors.Is(err, errSourceTreeMissing) {
				fmt.Fprintf(os.Stderr, "Patch failed: %v, run the update step first\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "Patch failed: %v\n", err)
			}
			os.Exit(1)
		}

	case "build", "b":
		buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
		var x86 = buildCmd.Bool("x86", false, "Target the x86 architecture.")
		var arm = buildCmd.Bool("arm", false, "Target the ARM64 architecture.")
		var ci = buildCmd.Bool("ci", false, "Continuous-integration mode: bounded compile plus packaging.")
		var skipGN = buildCmd.Bool("skip-gn", false, "Skip the GN bootstrap and generation pair.")
		var skipBindgen = buildCmd.Bool("skip-bindgen", false, "Skip building bindgen.")
		var forceGN = buildCmd.Bool("force-gn", false, "Run GN even when its bootstrap output already exists.")
		var quiet = buildCmd.Bool("quiet", false, "Suppress the elapsed-time ticker and terminal title updates.")
		var verbose = buildCmd.Bool("v", false, "Enable verbose output.")
		if err := buildCmd.Parse(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing build flags: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			Verbose = true
		}
		opts := BuildOptions{
			Arch:        archSelector(*x86, *arm),
			CI:          *ci,
			SkipGN:      *skipGN,
			SkipBindgen: *skipBindgen,
			ForceGN:     *forceGN,
			Quiet:       *quiet,
		}
		if err := buildCommand(opts); err != nil {
			var cancelled *BuildCancelledError
			if errors.As(err, &cancelled) {
				fmt.Fprintf(os.Stderr, "Build cancelled: %v\n", err)
				os.Exit(124) // timeout convention, distinct from a build defect
			}
			fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
			os.Exit(1)
		}

	case "log":
		name := ""
		if len(os.Args) >= 3 {
			name = os.Args[2]
		}
		if err := viewBuildLog(name); err != nil {
			fmt.Fprintf(os.Stderr, "Log viewer failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
		var timeout = checkCmd.Duration("timeout", time.Minute, "How long to wait for the browser to answer.")
		if err := checkCmd.Parse(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing check flags: %v\n", err)
			os.Exit(1)
		}
		if err := smokeCheck(*timeout); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "upload":
		uploadCmd := flag.NewFlagSet("upload", flag.ExitOnError)
		var yes = uploadCmd.Bool("y", false, "Assume 'yes' to all prompts.")
		var yesLong = uploadCmd.Bool("yes", false, "Assume 'yes' to all prompts.")
		var cleanup = uploadCmd.Bool("cleanup", false, "Delete remote artifacts that are no longer in the index.")
		if err := uploadCmd.Parse(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing upload flags: %v\n", err)
			os.Exit(1)
		}
		isCriticalAtomic.Store(1)
		err := uploadArtifacts(UploadOptions{AssumeYes: *yes || *yesLong, Cleanup: *cleanup})
		isCriticalAtomic.Store(0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
			os.Exit(1)
		}

	case "clean":
		if err := handleCleanCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Clean failed: %v\n", err)
			os.Exit(1)
		}

	case "version", "--version":
		colNote.Printf("nanto %s (%s) built %s\n", version, arch, buildDate)

	case "help", "-h", "--help":
		printHelp()

	default:
		printHelp()
		exitCode = 1
	}
	os.Exit(exitCode)
}
