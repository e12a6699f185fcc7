package wfdb

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func buildTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	cfg.Build.Jobs = 2
	cfg.Build.LFSDir = t.TempDir()
	cfg.Build.SourcesDir = t.TempDir()
	cfg.applyDefaults()
	return cfg
}

func newTestBuilder(t *testing.T, cfg *Config) *Builder {
	t.Helper()
	logger := testLogger()
	return &Builder{
		Logger: logger,
		Cfg:    cfg,
		Exec:   NewExecutor(context.Background()),
		Fetch:  &Fetcher{Logger: logger, SourcesDir: cfg.Build.SourcesDir, Mirror: &cfg.Mirror},
	}
}

// cacheArchive drops a <name>-<version>.tar.gz into the source cache whose
// top-level directory is treeName.
func cacheArchive(t *testing.T, cfg *Config, name, version, treeName string) {
	t.Helper()
	writeTarArchive(t, filepath.Join(cfg.Build.SourcesDir, name+"-"+version+".tar.gz"), []tarEntry{
		{name: treeName + "/", typeflag: tar.TypeDir},
		{name: treeName + "/configure", typeflag: tar.TypeReg, content: "#!/bin/sh\n"},
	})
}

func TestLocateTree(t *testing.T) {
	tests := []struct {
		name    string
		dirs    []string
		pkg     string
		version string
		want    string
		wantErr bool
	}{
		{"name and version", []string{"foo-1.2", "foo-extra"}, "foo", "1.2", "foo-1.2", false},
		{"prefix fallback", []string{"foo-extra"}, "foo", "1.2", "foo-extra", false},
		{"no candidate", []string{"bar-1.0"}, "foo", "1.2", "", true},
		{"stable pick", []string{"foo-1.2-rc", "foo-1.2"}, "foo", "1.2", "foo-1.2", false},
		{"empty dir", nil, "foo", "1.2", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, d := range tt.dirs {
				if err := os.Mkdir(filepath.Join(dir, d), 0o755); err != nil {
					t.Fatal(err)
				}
			}

			got, err := locateTree(dir, tt.pkg, tt.version)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("locateTree(%v) = %q, want error", tt.dirs, got)
				}
				var tnf *TreeNotFoundError
				if !errors.As(err, &tnf) {
					t.Errorf("error should be a *TreeNotFoundError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("locateTree error: %v", err)
			}
			if got != filepath.Join(dir, tt.want) {
				t.Errorf("locateTree = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocateTreeIgnoresFiles(t *testing.T) {
	dir := t.TempDir()
	// A regular file with the perfect name must not be mistaken for a tree.
	if err := os.WriteFile(filepath.Join(dir, "foo-1.2"), []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "foo-extra"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := locateTree(dir, "foo", "1.2")
	if err != nil {
		t.Fatalf("locateTree error: %v", err)
	}
	if got != filepath.Join(dir, "foo-extra") {
		t.Errorf("locateTree = %q, want the directory candidate", got)
	}
}

func TestBuildPackageEndToEnd(t *testing.T) {
	cfg := buildTestConfig(t)
	cacheArchive(t, cfg, "zlib", "1.3", "zlib-1.3")

	stepsLog := filepath.Join(t.TempDir(), "steps.log")
	pkg := &Package{
		Name:    "zlib",
		Version: "1.3",
		// Unreachable on purpose: the cached archive must satisfy the fetch.
		URL: "http://127.0.0.1:1/zlib-1.3.tar.gz",
		Build: []string{
			"echo configure >> " + stepsLog,
			"echo make >> " + stepsLog,
			"echo install >> " + stepsLog,
		},
	}

	b := newTestBuilder(t, cfg)
	if _, err := b.BuildPackage(pkg); err != nil {
		t.Fatalf("BuildPackage error: %v", err)
	}

	data, err := os.ReadFile(stepsLog)
	if err != nil {
		t.Fatalf("steps did not run: %v", err)
	}
	if got := string(data); got != "configure\nmake\ninstall\n" {
		t.Errorf("steps ran out of order: %q", got)
	}
	if dirExists(filepath.Join(cfg.Build.SourcesDir, "zlib-1.3")) {
		t.Error("source tree should be removed after a successful build")
	}
	if !fileExists(filepath.Join(cfg.Build.SourcesDir, "zlib-1.3.tar.gz")) {
		t.Error("cached archive should survive the build")
	}
	if !fileExists(filepath.Join(cfg.Build.SourcesDir, "log", "zlib-1.3.log")) {
		t.Error("per-package build log missing")
	}
}

func TestBuildPackageStepsRunInTree(t *testing.T) {
	cfg := buildTestConfig(t)
	cacheArchive(t, cfg, "hello", "2.0", "hello-2.0")

	out := filepath.Join(t.TempDir(), "cwd.txt")
	pkg := &Package{
		Name:    "hello",
		Version: "2.0",
		URL:     "http://127.0.0.1:1/hello-2.0.tar.gz",
		Build:   []string{"pwd > " + out + " && test -f configure"},
	}

	b := newTestBuilder(t, cfg)
	if _, err := b.BuildPackage(pkg); err != nil {
		t.Fatalf("BuildPackage error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	srcDir, err := filepath.EvalSymlinks(cfg.Build.SourcesDir)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(srcDir, "hello-2.0")
	if got := strings.TrimSpace(string(data)); got != want {
		t.Errorf("step ran in %q, want %q", got, want)
	}
}

func TestBuildPackageStepFailureAborts(t *testing.T) {
	cfg := buildTestConfig(t)
	cacheArchive(t, cfg, "broken", "0.1", "broken-0.1")

	stepsLog := filepath.Join(t.TempDir(), "steps.log")
	pkg := &Package{
		Name:    "broken",
		Version: "0.1",
		URL:     "http://127.0.0.1:1/broken-0.1.tar.gz",
		Build: []string{
			"echo first >> " + stepsLog,
			"exit 7",
			"echo never >> " + stepsLog,
		},
	}

	b := newTestBuilder(t, cfg)
	_, err := b.BuildPackage(pkg)
	if err == nil {
		t.Fatal("failing step should abort the build")
	}
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("error should be a *StepError, got %T: %v", err, err)
	}
	if se.Step != 2 || se.ExitCode != 7 {
		t.Errorf("StepError = step %d exit %d, want step 2 exit 7", se.Step, se.ExitCode)
	}

	data, err := os.ReadFile(stepsLog)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "first\n" {
		t.Errorf("steps after the failure must not run, log: %q", got)
	}
	if dirExists(filepath.Join(cfg.Build.SourcesDir, "broken-0.1")) {
		t.Error("source tree should be removed after a failed build")
	}
}

func TestBuildPackageFreshExtract(t *testing.T) {
	cfg := buildTestConfig(t)
	cacheArchive(t, cfg, "fresh", "1.0", "fresh-1.0")

	// Leftovers from a previous crashed attempt.
	stale := filepath.Join(cfg.Build.SourcesDir, "fresh-1.0")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "stale.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	pkg := &Package{
		Name:    "fresh",
		Version: "1.0",
		URL:     "http://127.0.0.1:1/fresh-1.0.tar.gz",
		// Succeeds only when the stale file was wiped by the re-extract.
		Build: []string{"test ! -e stale.txt"},
	}

	b := newTestBuilder(t, cfg)
	if _, err := b.BuildPackage(pkg); err != nil {
		t.Fatalf("BuildPackage error: %v", err)
	}
}

func TestBuildPackageTreeNotFound(t *testing.T) {
	cfg := buildTestConfig(t)
	// Archive unpacks to a directory unrelated to the package name.
	cacheArchive(t, cfg, "mismatch", "1.0", "other-9.9")

	pkg := &Package{
		Name:    "mismatch",
		Version: "1.0",
		URL:     "http://127.0.0.1:1/mismatch-1.0.tar.gz",
		Build:   []string{"true"},
	}

	b := newTestBuilder(t, cfg)
	_, err := b.BuildPackage(pkg)
	if err == nil {
		t.Fatal("unlocatable tree should fail the build")
	}
	var tnf *TreeNotFoundError
	if !errors.As(err, &tnf) {
		t.Errorf("error should be a *TreeNotFoundError, got %T: %v", err, err)
	}
}

func TestBuildPackageMissingURL(t *testing.T) {
	cfg := buildTestConfig(t)
	b := newTestBuilder(t, cfg)

	_, err := b.BuildPackage(&Package{Name: "nourl", Version: "1.0", Build: []string{"true"}})
	if err == nil {
		t.Fatal("package without a url must not build")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Errorf("error should be a *FetchError, got %T: %v", err, err)
	}
}

func TestBuildPackageFetchFailureAborts(t *testing.T) {
	cfg := buildTestConfig(t)
	// Nothing cached and nothing listening.
	pkg := &Package{
		Name:    "gone",
		Version: "1.0",
		URL:     "http://127.0.0.1:1/gone-1.0.tar.gz",
		Build:   []string{"true"},
	}

	b := newTestBuilder(t, cfg)
	_, err := b.BuildPackage(pkg)
	if err == nil {
		t.Fatal("unreachable source should fail the build")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Errorf("error should be a *FetchError, got %T: %v", err, err)
	}
	if dirExists(filepath.Join(cfg.Build.SourcesDir, "gone-1.0")) {
		t.Error("no tree should exist when the fetch fails")
	}
}

func TestBuildPackageLogCapturesStepOutput(t *testing.T) {
	cfg := buildTestConfig(t)
	cacheArchive(t, cfg, "logged", "3.1", "logged-3.1")

	pkg := &Package{
		Name:    "logged",
		Version: "3.1",
		URL:     "http://127.0.0.1:1/logged-3.1.tar.gz",
		Build:   []string{"echo hello-from-step"},
	}

	b := newTestBuilder(t, cfg)
	if _, err := b.BuildPackage(pkg); err != nil {
		t.Fatalf("BuildPackage error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Build.SourcesDir, "log", "logged-3.1.log"))
	if err != nil {
		t.Fatalf("build log missing: %v", err)
	}
	log := string(data)
	if !strings.Contains(log, "### step 1/1") {
		t.Errorf("log missing step marker: %q", log)
	}
	if !strings.Contains(log, "hello-from-step") {
		t.Errorf("log missing step output: %q", log)
	}
}

func TestBuildPackageUsesBuildCommands(t *testing.T) {
	cfg := buildTestConfig(t)
	cacheArchive(t, cfg, "tc", "0.5", "tc-0.5")

	marker := filepath.Join(t.TempDir(), "ran.txt")
	pkg := &Package{
		Name:          "tc",
		Version:       "0.5",
		URL:           "http://127.0.0.1:1/tc-0.5.tar.gz",
		BuildCommands: []string{"echo toolchain-step > " + marker},
		Build:         []string{"echo shadowed > " + marker},
	}

	b := newTestBuilder(t, cfg)
	if _, err := b.BuildPackage(pkg); err != nil {
		t.Fatalf("BuildPackage error: %v", err)
	}

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(data)); got != "toolchain-step" {
		t.Errorf("build_commands should win over build, got %q", got)
	}
}
