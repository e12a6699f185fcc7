package wfdb

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
)

// machineName returns the hardware name used in the cross toolchain triple.
func machineName() string {
	m := ""
	cmd := exec.Command("uname", "-m")
	out, err := cmd.Output()
	if err == nil {
		m = strings.TrimSpace(string(out))
	}
	if m == "" {
		// Final fallback to Go runtime info
		m = runtime.GOARCH
	}
	// Normalize architecture names
	if m == "amd64" {
		m = "x86_64"
	}
	if m == "arm64" {
		m = "aarch64"
	}
	return m
}

// buildEnvironment returns a fresh copy of the ambient environment with the
// build variables applied. The names and values are a stable contract with
// the shell commands in the package lists; a new map is built for every
// package so overrides never leak between builds.
func buildEnvironment(installRoot string, jobs int) map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	env["LFS"] = installRoot
	env["LC_ALL"] = "POSIX"
	env["LFS_TGT"] = machineName() + "-lfs-linux-gnu"
	env["PATH"] = "/usr/bin:/bin"
	env["MAKEFLAGS"] = fmt.Sprintf("-j%d", jobs)
	return env
}

// environSlice renders env as sorted KEY=value pairs for exec.Cmd.
func environSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return pairs
}
