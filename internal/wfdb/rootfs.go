package wfdb

import (
	"fmt"
	"os"
	"path/filepath"
)

// rootfsDirs is the top-level skeleton staged under the installation root.
var rootfsDirs = []string{
	"etc", "var", "usr/bin", "usr/lib", "usr/sbin",
	"lib", "sbin", "bin", "boot", "home", "mnt", "opt",
	"proc", "root", "run", "srv", "sys", "tmp", "var/log",
}

// rootfsLinks are the compatibility symlinks ensured after the skeleton
// exists, as target/link pairs relative to the root.
var rootfsLinks = [][2]string{
	{"lib", "lib64"},
	{"usr/lib", "usr/lib64"},
}

// ensureSymlink makes link point at target. Success when the link was
// created or already points at target; anything else occupying the path is
// a conflict and comes back as an error.
func ensureSymlink(target, link string) error {
	fi, err := os.Lstat(link)
	if err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			existing, rerr := os.Readlink(link)
			if rerr != nil {
				return fmt.Errorf("failed to read symlink %s: %w", link, rerr)
			}
			if existing == target {
				return nil
			}
			return fmt.Errorf("symlink %s points at %s, want %s", link, existing, target)
		}
		return fmt.Errorf("%s exists and is not a symlink to %s", link, target)
	}
	if !os.IsNotExist(err) {
		return err
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", link, target, err)
	}
	return nil
}

// stageRootfs creates the directory skeleton and compatibility links under
// the installation root. Safe to run against an already staged root.
func stageRootfs(root string) error {
	for _, d := range rootfsDirs {
		p := filepath.Join(root, d)
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}
	}
	for _, l := range rootfsLinks {
		if err := ensureSymlink(l[0], filepath.Join(root, l[1])); err != nil {
			return err
		}
	}
	debugf("Rootfs skeleton staged at %s\n", root)
	return nil
}
