package wfdb

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// Orchestrator drives the full rootfs build: staging, the toolchain phase,
// the system-packages phase, and the generated configuration files.
type Orchestrator struct {
	Logger  *log.Logger
	Cfg     *Config
	Builder *Builder
	Fetch   *Fetcher
}

// BuildToolchain builds the cross toolchain. Every archive is fetched up
// front so a dead URL surfaces before hours of compilation; entries without
// build commands are metadata-only and are fetched but never built. The
// first failure of any kind aborts the phase.
func (o *Orchestrator) BuildToolchain(pkgs []Package) error {
	o.Logger.Info("Building cross-compilation toolchain...")
	if len(pkgs) == 0 {
		return errors.New("no toolchain packages configured")
	}

	for i := range pkgs {
		pkg := &pkgs[i]
		if pkg.URL == "" {
			continue
		}
		dest := filepath.Join(o.Cfg.Build.SourcesDir, archiveName(pkg.URL))
		if err := o.Fetch.Fetch(o.Builder.Exec.Context, pkg.URL, dest, pkg.Checksum()); err != nil {
			return err
		}
	}

	for i := range pkgs {
		pkg := &pkgs[i]
		if pkg.MetadataOnly() {
			debugf("Skipping %s-%s (no build commands)\n", pkg.Name, pkg.Version)
			continue
		}
		colArrow.Print("-> ")
		colSuccess.Print("Building: ")
		colNote.Printf("%s-%s (%d/%d)\n", pkg.Name, pkg.Version, i+1, len(pkgs))

		duration, err := o.Builder.BuildPackage(pkg)
		if err != nil {
			return fmt.Errorf("toolchain package %s: %w", pkg.Name, err)
		}
		colArrow.Print("-> ")
		colSuccess.Print("Built:")
		colNote.Printf(" %s-%s Time: %s\n", pkg.Name, pkg.Version, duration)
	}
	return nil
}

// BuildSystemPackages builds the final system packages in declared order.
// There is no metadata skip here; the first failure aborts the phase.
func (o *Orchestrator) BuildSystemPackages(pkgs []Package) error {
	o.Logger.Info("Building system packages...")
	if len(pkgs) == 0 {
		o.Logger.Warn("No system packages configured")
		return nil
	}

	for i := range pkgs {
		pkg := &pkgs[i]
		colArrow.Print("-> ")
		colSuccess.Print("Building: ")
		colNote.Printf("%s-%s (%d/%d)\n", pkg.Name, pkg.Version, i+1, len(pkgs))

		duration, err := o.Builder.BuildPackage(pkg)
		if err != nil {
			return fmt.Errorf("system package %s: %w", pkg.Name, err)
		}
		colArrow.Print("-> ")
		colSuccess.Print("Built:")
		colNote.Printf(" %s-%s Time: %s\n", pkg.Name, pkg.Version, duration)
	}
	return nil
}

// Build runs the whole pipeline: stage the rootfs skeleton, build the
// toolchain, build the system packages, then generate the system
// configuration, users, and bootloader entries. A phase failure stops
// everything after it.
func (o *Orchestrator) Build() error {
	root := o.Cfg.Build.LFSDir

	colArrow.Print("-> ")
	colSuccess.Printf("Building %s %s\n", o.Cfg.Meta.Name, o.Cfg.Meta.Version)

	o.Logger.Info("Setting up build environment...", "root", root)
	if err := stageRootfs(root); err != nil {
		return fmt.Errorf("rootfs staging failed: %w", err)
	}

	if err := o.BuildToolchain(o.Cfg.ToolchainPackages); err != nil {
		return fmt.Errorf("toolchain build failed: %w", err)
	}
	if err := o.BuildSystemPackages(o.Cfg.SystemPackages); err != nil {
		return fmt.Errorf("system package build failed: %w", err)
	}

	// Critical section: a half-written passwd or fstab must not be left
	// behind by an interrupt.
	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)

	o.Logger.Info("Creating system configuration...")
	if err := writeSystemConfig(o.Cfg); err != nil {
		return fmt.Errorf("system configuration failed: %w", err)
	}
	o.Logger.Info("Creating system users...")
	if err := writeSystemUsers(o.Cfg); err != nil {
		return fmt.Errorf("system users failed: %w", err)
	}
	o.Logger.Info("Setting up bootloader...")
	if err := writeBootloaderConfig(o.Cfg); err != nil {
		return fmt.Errorf("bootloader configuration failed: %w", err)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("%s %s build complete. Root filesystem at %s\n",
		o.Cfg.Meta.Name, o.Cfg.Meta.Version, root)
	return nil
}
