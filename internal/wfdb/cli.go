package wfdb

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: wfdb <command> [arguments]")
	colSuccess.Println("Run 'wfdb <command> -h' for command options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build, b", "[-c config] [-verify] [-v]", "Build the full distribution (toolchain + system)"},
		{"toolchain, t", "[-c config]", "Stage the rootfs and build the toolchain only"},
		{"system, s", "[-c config]", "Build the system packages only"},
		{"fetch, f", "[-c config] [-verify]", "Prefetch all declared source archives"},
		{"clean", "[-c config] [-all] [-y]", "Remove extracted trees (and archives with -all)"},
		{"mirror", "push|pull [-c config]", "Sync the source cache with the configured mirror"},
		{"logs, log", "[-c config]", "TUI build log viewer"},
		{"version, --version", "", "Version information"},
	}

	// Find the longest usage string so the description column lines up.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
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

// loadRunConfig loads the configuration for a subcommand and raises the
// logger verbosity when the config asks for it.
func loadRunConfig(path string, logger *log.Logger) (*Config, error) {
	cfg, err := loadConfig(path, logger)
	if err != nil {
		return nil, err
	}
	Debug = cfg.Debug
	reconfigureLogger(logger, Debug)
	return cfg, nil
}

// newOrchestrator wires the build components around the global executor.
func newOrchestrator(cfg *Config, logger *log.Logger, verify bool) *Orchestrator {
	fetcher := &Fetcher{
		Logger:     logger,
		SourcesDir: cfg.Build.SourcesDir,
		Mirror:     &cfg.Mirror,
		Verify:     verify,
	}
	builder := &Builder{Logger: logger, Cfg: cfg, Exec: BuildExec, Fetch: fetcher}
	return &Orchestrator{Logger: logger, Cfg: cfg, Builder: builder, Fetch: fetcher}
}

func handleBuildCommand(args []string, logger *log.Logger) error {
	buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
	cfgPath := buildCmd.String("c", DefaultConfigFile, "Path to the main configuration file.")
	verify := buildCmd.Bool("verify", false, "Re-check cached archives against declared checksums.")
	verbose := buildCmd.Bool("v", false, "Stream build step output to the console.")
	idle := buildCmd.Bool("idle", false, "Run build steps at lowest CPU priority.")
	if err := buildCmd.Parse(args); err != nil {
		return err
	}
	Verbose = *verbose

	cfg, err := loadRunConfig(*cfgPath, logger)
	if err != nil {
		return err
	}
	BuildExec.ApplyIdlePriority = *idle

	return newOrchestrator(cfg, logger, *verify).Build()
}

func handleToolchainCommand(args []string, logger *log.Logger) error {
	tcCmd := flag.NewFlagSet("toolchain", flag.ExitOnError)
	cfgPath := tcCmd.String("c", DefaultConfigFile, "Path to the main configuration file.")
	verify := tcCmd.Bool("verify", false, "Re-check cached archives against declared checksums.")
	verbose := tcCmd.Bool("v", false, "Stream build step output to the console.")
	idle := tcCmd.Bool("idle", false, "Run build steps at lowest CPU priority.")
	if err := tcCmd.Parse(args); err != nil {
		return err
	}
	Verbose = *verbose

	cfg, err := loadRunConfig(*cfgPath, logger)
	if err != nil {
		return err
	}
	BuildExec.ApplyIdlePriority = *idle

	if err := stageRootfs(cfg.Build.LFSDir); err != nil {
		return fmt.Errorf("rootfs staging failed: %w", err)
	}
	return newOrchestrator(cfg, logger, *verify).BuildToolchain(cfg.ToolchainPackages)
}

func handleSystemCommand(args []string, logger *log.Logger) error {
	sysCmd := flag.NewFlagSet("system", flag.ExitOnError)
	cfgPath := sysCmd.String("c", DefaultConfigFile, "Path to the main configuration file.")
	verify := sysCmd.Bool("verify", false, "Re-check cached archives against declared checksums.")
	verbose := sysCmd.Bool("v", false, "Stream build step output to the console.")
	idle := sysCmd.Bool("idle", false, "Run build steps at lowest CPU priority.")
	if err := sysCmd.Parse(args); err != nil {
		return err
	}
	Verbose = *verbose

	cfg, err := loadRunConfig(*cfgPath, logger)
	if err != nil {
		return err
	}
	BuildExec.ApplyIdlePriority = *idle

	if !dirExists(filepath.Join(cfg.Build.LFSDir, "usr")) {
		logger.Warn("install root looks unstaged, run 'wfdb toolchain' first", "root", cfg.Build.LFSDir)
	}
	return newOrchestrator(cfg, logger, *verify).BuildSystemPackages(cfg.SystemPackages)
}

func handleFetchCommand(ctx context.Context, args []string, logger *log.Logger) error {
	fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
	cfgPath := fetchCmd.String("c", DefaultConfigFile, "Path to the main configuration file.")
	verify := fetchCmd.Bool("verify", false, "Re-check cached archives against declared checksums.")
	if err := fetchCmd.Parse(args); err != nil {
		return err
	}

	cfg, err := loadRunConfig(*cfgPath, logger)
	if err != nil {
		return err
	}

	fetcher := &Fetcher{
		Logger:     logger,
		SourcesDir: cfg.Build.SourcesDir,
		Mirror:     &cfg.Mirror,
		Verify:     *verify,
	}
	pkgs := append(append([]Package{}, cfg.ToolchainPackages...), cfg.SystemPackages...)
	if len(pkgs) == 0 {
		logger.Warn("no packages declared, nothing to fetch")
		return nil
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Fetching sources for %d packages\n", len(pkgs))
	if err := fetcher.PrefetchSources(ctx, pkgs); err != nil {
		return err
	}
	colArrow.Print("-> ")
	colSuccess.Println("All sources fetched.")
	return nil
}

func handleCleanCommand(args []string, logger *log.Logger) error {
	cleanCmd := flag.NewFlagSet("clean", flag.ExitOnError)
	cfgPath := cleanCmd.String("c", DefaultConfigFile, "Path to the main configuration file.")
	all := cleanCmd.Bool("all", false, "Also remove downloaded archives and build logs.")
	yes := cleanCmd.Bool("y", false, "Assume 'yes' to all prompts.")
	if err := cleanCmd.Parse(args); err != nil {
		return err
	}

	cfg, err := loadRunConfig(*cfgPath, logger)
	if err != nil {
		return err
	}
	return cleanSources(cfg, *all, *yes)
}

func handleMirrorCommand(ctx context.Context, args []string, logger *log.Logger) error {
	if len(args) < 1 || (args[0] != "push" && args[0] != "pull") {
		return fmt.Errorf("usage: wfdb mirror push|pull [-c config]")
	}
	direction := args[0]

	mirrorCmd := flag.NewFlagSet("mirror "+direction, flag.ExitOnError)
	cfgPath := mirrorCmd.String("c", DefaultConfigFile, "Path to the main configuration file.")
	if err := mirrorCmd.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := loadRunConfig(*cfgPath, logger)
	if err != nil {
		return err
	}

	if direction == "push" {
		return mirrorPush(ctx, cfg)
	}
	return mirrorPull(ctx, cfg)
}

// Main is the CLI entrypoint for cmd/wfdb.
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
					// Config generation in progress; block the first signal,
					// force exit on the second.
					colArrow.Print("\n-> ")
					colError.Printf("Critical write in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.\n")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				}

				colArrow.Print("\n-> ")
				color.Danger.Printf("Received %v. Cancelling build gracefully\n", sig)
				cancel()

				// Give the child process group a moment to die and flush.
				time.Sleep(100 * time.Millisecond)

				select {
				case <-sigs:
					colArrow.Print("\n-> ")
					color.Danger.Printf("Second interrupt received. Forcing immediate exit.\n")
					os.Exit(130)
				case <-time.After(2 * time.Second):
					colArrow.Print("\n-> ")
					color.Danger.Printf("Graceful shutdown timeout. Exiting.\n")
					os.Exit(130)
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

	logger := newLogger(os.Stderr)
	BuildExec = NewExecutor(ctx)

	var exitCode int
	switch os.Args[1] {
	case "build", "b":
		if err := handleBuildCommand(os.Args[2:], logger); err != nil {
			fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
			exitCode = 1
		}

	case "toolchain", "t":
		if err := handleToolchainCommand(os.Args[2:], logger); err != nil {
			fmt.Fprintf(os.Stderr, "Toolchain build failed: %v\n", err)
			exitCode = 1
		}

	case "system", "s":
		if err := handleSystemCommand(os.Args[2:], logger); err != nil {
			fmt.Fprintf(os.Stderr, "System build failed: %v\n", err)
			exitCode = 1
		}

	case "fetch", "f":
		if err := handleFetchCommand(ctx, os.Args[2:], logger); err != nil {
			fmt.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
			exitCode = 1
		}

	case "clean":
		if err := handleCleanCommand(os.Args[2:], logger); err != nil {
			fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
			exitCode = 1
		}

	case "mirror":
		if err := handleMirrorCommand(ctx, os.Args[2:], logger); err != nil {
			fmt.Fprintf(os.Stderr, "Mirror sync failed: %v\n", err)
			exitCode = 1
		}

	case "logs", "log":
		logsCmd := flag.NewFlagSet("logs", flag.ExitOnError)
		cfgPath := logsCmd.String("c", DefaultConfigFile, "Path to the main configuration file.")
		if err := logsCmd.Parse(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing logs flags: %v\n", err)
			os.Exit(1)
		}
		cfg, err := loadRunConfig(*cfgPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		exitCode = runLogViewer(cfg.Build.SourcesDir)

	case "version", "--version":
		colNote.Printf("wfdb %s (%s) built %s\n", version, arch, buildDate)

	case "help", "-h", "--help":
		printHelp()

	default:
		printHelp()
		exitCode = 1
	}
	os.Exit(exitCode)
}
