package wfdb

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

// DefaultConfigFile is the main configuration read when -c is not given.
const DefaultConfigFile = "windfall.toml"

// Config is the fully merged build configuration: the main TOML file,
// defaults, environment overrides, and the package lists pulled in from the
// external toolchain/system files.
type Config struct {
	Debug  bool         `toml:"debug"`
	Meta   MetaConfig   `toml:"meta"`
	Build  BuildConfig  `toml:"build"`
	Users  UsersConfig  `toml:"users"`
	Mirror MirrorConfig `toml:"mirror"`

	// Inline system packages, merged with the external system config file.
	Packages []Package `toml:"packages"`

	ToolchainPackages []Package `toml:"-"`
	SystemPackages    []Package `toml:"-"`

	// Directory of the main config file; external files resolve against it.
	baseDir string
}

// MetaConfig identifies the distribution being built.
type MetaConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// BuildConfig holds paths and build parameters.
type BuildConfig struct {
	Jobs            int    `toml:"jobs"`
	LFSDir          string `toml:"lfs_dir"`
	SourcesDir      string `toml:"sources_dir"`
	ToolsDir        string `toml:"tools_dir"`
	Version         string `toml:"version"`
	ToolchainConfig string `toml:"toolchain_config"`
	SystemConfig    string `toml:"system_config"`
}

// UsersConfig declares the build user and the system users written into the
// target's passwd/group files.
type UsersConfig struct {
	LFSUser  string `toml:"lfs_user"`
	LFSGroup string `toml:"lfs_group"`
	System   []User `toml:"system"`
}

// User is one system user entry for the generated passwd/group files.
type User struct {
	Name   string   `toml:"name"`
	UID    int      `toml:"uid"`
	GID    int      `toml:"gid"`
	Home   string   `toml:"home"`
	Shell  string   `toml:"shell"`
	Groups []string `toml:"groups"`
}

// MirrorConfig points at an S3-compatible bucket mirroring the source cache.
// AccountID selects the Cloudflare R2 endpoint; Endpoint overrides it for
// plain S3 deployments.
type MirrorConfig struct {
	Endpoint    string `toml:"endpoint"`
	AccountID   string `toml:"account_id"`
	AccessKey   string `toml:"access_key"`
	SecretKey   string `toml:"secret_key"`
	Bucket      string `toml:"bucket"`
	Prefix      string `toml:"prefix"`
	PublicURL   string `toml:"public_url"`
	MirrorFirst bool   `toml:"mirror_first"`
}

// Package is one declarative package entry. Toolchain files use
// build_commands for the step list, system files use build; Steps folds the
// two together.
type Package struct {
	Name          string   `toml:"name"`
	Version       string   `toml:"version"`
	URL           string   `toml:"url"`
	Hash          string   `toml:"hash"`
	MD5           string   `toml:"md5"`
	Build         []string `toml:"build"`
	BuildCommands []string `toml:"build_commands"`
}

// Steps returns the ordered build commands for this package.
func (p *Package) Steps() []string {
	if len(p.BuildCommands) > 0 {
		return p.BuildCommands
	}
	return p.Build
}

// MetadataOnly reports whether this entry declares no build steps and exists
// only to trigger a fetch or document a dependency.
func (p *Package) MetadataOnly() bool {
	return len(p.Steps()) == 0
}

// Checksum returns the declared content checksum, or nil when the entry has
// none. hash wins over md5 when both are present.
func (p *Package) Checksum() *Checksum {
	raw := p.Hash
	if raw == "" {
		raw = p.MD5
	}
	if raw == "" {
		return nil
	}
	cs := parseChecksum(raw)
	return &cs
}

// packageFile is the shape of the external toolchain/system TOML files.
type packageFile struct {
	Packages []Package `toml:"packages"`
}

// loadConfig reads the main TOML configuration, applies defaults and
// environment overrides, and loads the external package files. A missing or
// unreadable main file is an error; missing external files are logged
// warnings that leave the corresponding package list empty.
func loadConfig(path string, logger *log.Logger) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.baseDir = filepath.Dir(path)

	cfg.applyDefaults()
	mergeEnvOverrides(cfg)
	cfg.loadExternalConfigs(logger)

	return cfg, nil
}

// applyDefaults fills every unset field with the stock value.
func (cfg *Config) applyDefaults() {
	if cfg.Build.Jobs <= 0 {
		cfg.Build.Jobs = runtime.NumCPU()
	}
	if cfg.Build.LFSDir == "" {
		cfg.Build.LFSDir = "/mnt/lfs"
	}
	if cfg.Build.SourcesDir == "" {
		cfg.Build.SourcesDir = "/sources"
	}
	if cfg.Build.ToolsDir == "" {
		cfg.Build.ToolsDir = "/tools"
	}
	if cfg.Build.Version == "" {
		cfg.Build.Version = "12.2"
	}
	if cfg.Build.ToolchainConfig == "" {
		cfg.Build.ToolchainConfig = "LFS/toolchain.toml"
	}
	if cfg.Build.SystemConfig == "" {
		cfg.Build.SystemConfig = "LFS/lfs_build.toml"
	}
	if cfg.Meta.Name == "" {
		cfg.Meta.Name = "WindfallLinux"
	}
	if cfg.Meta.Version == "" {
		cfg.Meta.Version = "1.0"
	}
	if cfg.Users.LFSUser == "" {
		cfg.Users.LFSUser = "lfs"
	}
	if cfg.Users.LFSGroup == "" {
		cfg.Users.LFSGroup = "lfs"
	}
}

// mergeEnvOverrides applies WINDFALL_* environment overrides on top of the
// file values. LFS is honored as an alias for the install root so existing
// LFS build environments keep working.
func mergeEnvOverrides(cfg *Config) {
	if v := os.Getenv("WINDFALL_LFS_DIR"); v != "" {
		cfg.Build.LFSDir = v
	} else if v := os.Getenv("LFS"); v != "" {
		cfg.Build.LFSDir = v
	}
	if v := os.Getenv("WINDFALL_SOURCES_DIR"); v != "" {
		cfg.Build.SourcesDir = v
	}
	if v := os.Getenv("WINDFALL_TOOLS_DIR"); v != "" {
		cfg.Build.ToolsDir = v
	}
	if v := os.Getenv("WINDFALL_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Build.Jobs = n
		}
	}
	if v := os.Getenv("WINDFALL_DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
}

// loadExternalConfigs reads the toolchain and system package files declared
// in [build], resolved relative to the main config's directory. An absent
// file leaves its package list empty; a present but malformed file is a
// warning, not an error.
func (cfg *Config) loadExternalConfigs(logger *log.Logger) {
	toolchainPath := cfg.resolvePath(cfg.Build.ToolchainConfig)
	if fileExists(toolchainPath) {
		if pkgs, err := loadPackageFile(toolchainPath); err != nil {
			logger.Warn("failed to load toolchain config", "path", toolchainPath, "err", err)
		} else {
			cfg.ToolchainPackages = pkgs
			logger.Info("loaded toolchain packages", "count", len(pkgs))
		}
	}

	cfg.SystemPackages = append(cfg.SystemPackages, cfg.Packages...)
	systemPath := cfg.resolvePath(cfg.Build.SystemConfig)
	if fileExists(systemPath) {
		if pkgs, err := loadPackageFile(systemPath); err != nil {
			logger.Warn("failed to load system config", "path", systemPath, "err", err)
		} else {
			cfg.SystemPackages = append(cfg.SystemPackages, pkgs...)
			logger.Info("loaded system packages", "count", len(pkgs))
		}
	}
}

func (cfg *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.baseDir, p)
}

func loadPackageFile(path string) ([]Package, error) {
	var pf packageFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return nil, err
	}
	return pf.Packages, nil
}
