package wfdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gookit/color"
)

const setTitleFormat = "\033]0;%s\a"

// TreeNotFoundError reports an archive that extracted without leaving any
// directory matching its package in the source cache.
type TreeNotFoundError struct {
	Name    string
	Version string
	Dir     string
}

func (e *TreeNotFoundError) Error() string {
	return fmt.Sprintf("no extracted source tree for %s-%s under %s", e.Name, e.Version, e.Dir)
}

// StepError reports the first failing build step of a package. Err is set
// when the step never produced an exit status; otherwise ExitCode carries
// the shell's status.
type StepError struct {
	Package  string
	Step     int // 1-based
	Total    int
	Command  string
	ExitCode int
	Err      error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: step %d/%d: %v", e.Package, e.Step, e.Total, e.Err)
	}
	return fmt.Sprintf("%s: step %d/%d exited with status %d", e.Package, e.Step, e.Total, e.ExitCode)
}

func (e *StepError) Unwrap() error { return e.Err }

// Builder runs the full lifecycle for a single package: fetch, fresh
// extract, tree location, build steps, cleanup.
type Builder struct {
	Logger *log.Logger
	Cfg    *Config
	Exec   *Executor
	Fetch  *Fetcher
}

// BuildPackage builds one package and returns how long it took. The
// extracted source tree is removed on every exit path once it has been
// located; the cached archive is kept.
func (b *Builder) BuildPackage(pkg *Package) (time.Duration, error) {
	startTime := time.Now()
	srcDir := b.Cfg.Build.SourcesDir

	if pkg.URL == "" {
		return 0, &FetchError{URL: pkg.URL, Err: errors.New("package declares no source url")}
	}

	// 1. Make sure the archive is in the cache.
	archive := archiveName(pkg.URL)
	archivePath := filepath.Join(srcDir, archive)
	b.Logger.Debug("fetching", "package", pkg.Name, "archive", archive)
	if err := b.Fetch.Fetch(b.Exec.Context, pkg.URL, archivePath, pkg.Checksum()); err != nil {
		return 0, err
	}

	// 2. Drop any stale tree from a previous attempt so the extraction is
	// always fresh.
	stale := filepath.Join(srcDir, pkg.Name+"-"+pkg.Version)
	if err := os.RemoveAll(stale); err != nil {
		return 0, fmt.Errorf("failed to remove stale tree %s: %w", stale, err)
	}

	// 3. Extract into the shared source directory.
	b.Logger.Debug("extracting", "package", pkg.Name, "archive", archive)
	if err := Extract(archivePath, srcDir); err != nil {
		return 0, err
	}

	// 4. Find the tree the archive actually unpacked to.
	tree, err := locateTree(srcDir, pkg.Name, pkg.Version)
	if err != nil {
		return 0, err
	}
	debugf("Located source tree: %s\n", tree)

	// 7. The tree goes away no matter how the steps turn out; a few hundred
	// packages of leftover trees would fill the disk.
	defer func() {
		debugf("Cleaning up %s\n", tree)
		if err := os.RemoveAll(tree); err != nil {
			b.Logger.Warn("failed to remove source tree", "path", tree, "err", err)
		}
	}()

	// 5. Fresh environment for this package only.
	env := buildEnvironment(b.Cfg.Build.LFSDir, b.Cfg.Build.Jobs)

	// 6. Run the declared steps in order, first failure aborts.
	steps := pkg.Steps()
	logPath, logFile := b.openBuildLog(pkg)
	var sink io.Writer
	if logFile != nil {
		defer logFile.Close()
		sink = logFile
		if Verbose || Debug {
			sink = io.MultiWriter(os.Stdout, logFile)
		}
	}

	for i, step := range steps {
		fmt.Printf(setTitleFormat, fmt.Sprintf("%s (%d/%d)", pkg.Name, i+1, len(steps)))
		debugf("Running step %d/%d for %s: %s\n", i+1, len(steps), pkg.Name, step)
		if logFile != nil {
			fmt.Fprintf(logFile, "### step %d/%d: %s\n", i+1, len(steps), step)
		}

		res, runErr := b.Exec.RunShell(step, tree, env, sink)
		if runErr != nil {
			b.reportFailure(pkg, logPath, fmt.Sprintf("step %d/%d: %v", i+1, len(steps), runErr))
			return 0, &StepError{Package: pkg.Name, Step: i + 1, Total: len(steps), Command: step, Err: runErr}
		}
		if !res.Success() {
			b.reportFailure(pkg, logPath, fmt.Sprintf("step %d/%d exited with status %d", i+1, len(steps), res.ExitCode))
			return 0, &StepError{Package: pkg.Name, Step: i + 1, Total: len(steps), Command: step, ExitCode: res.ExitCode}
		}
	}

	elapsed := time.Since(startTime).Truncate(time.Second)
	fmt.Printf(setTitleFormat, fmt.Sprintf("✅ SUCCESS: %s", pkg.Name))
	return elapsed, nil
}

// openBuildLog creates the per-package build log under <sources>/log. A log
// that cannot be created is a warning, not a build failure.
func (b *Builder) openBuildLog(pkg *Package) (string, *os.File) {
	logDir := filepath.Join(b.Cfg.Build.SourcesDir, "log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		b.Logger.Warn("cannot create log directory", "path", logDir, "err", err)
		return "", nil
	}
	logPath := filepath.Join(logDir, pkg.Name+"-"+pkg.Version+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		b.Logger.Warn("cannot create build log", "path", logPath, "err", err)
		return logPath, nil
	}
	return logPath, logFile
}

// reportFailure prints the failure headline and echoes the tail of the
// build log so the actual compiler error is visible without digging.
func (b *Builder) reportFailure(pkg *Package, logPath, reason string) {
	colArrow.Print("-> ")
	color.Danger.Printf("Build failed for %s: %s\n", pkg.Name, reason)
	fmt.Printf(setTitleFormat, fmt.Sprintf("❌ FAILED: %s", pkg.Name))
	if logPath == "" {
		return
	}
	if tail := tailFile(logPath, 50); tail != "" {
		fmt.Println(tail)
	}
	cPrintf(colInfo, "Full log: %s\n", logPath)
}

// locateTree finds the directory an archive unpacked to. Tarball top-level
// names rarely match <name>-<version> exactly, so directories containing
// both the name and version substrings are preferred, with a fallback to a
// plain name prefix. Candidates are taken in lexicographic order so the
// choice is stable across runs.
func locateTree(dir, name, version string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var exact, prefix []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.Contains(n, name) && strings.Contains(n, version) {
			exact = append(exact, n)
		} else if strings.HasPrefix(n, name) {
			prefix = append(prefix, n)
		}
	}

	pick := exact
	if len(pick) == 0 {
		pick = prefix
	}
	if len(pick) == 0 {
		return "", &TreeNotFoundError{Name: name, Version: version, Dir: dir}
	}
	sort.Strings(pick)
	return filepath.Join(dir, pick[0]), nil
}
