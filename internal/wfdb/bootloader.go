package wfdb

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeBootloaderConfig generates a stock grub.cfg naming the distribution.
// The kernel and initrd paths are placeholders until the image build
// installs real ones.
func writeBootloaderConfig(cfg *Config) error {
	bootDir := filepath.Join(cfg.Build.LFSDir, "boot", "grub")
	if err := os.MkdirAll(bootDir, 0o755); err != nil {
		return err
	}

	grubCfg := fmt.Sprintf(`
set default=0
set timeout=5

menuentry "%s %s" {
    linux   /boot/vmlinuz root=/dev/sda1 ro
    initrd  /boot/initrd.img
}
`, cfg.Meta.Name, cfg.Meta.Version)

	if err := os.WriteFile(filepath.Join(bootDir, "grub.cfg"), []byte(grubCfg), 0o644); err != nil {
		return fmt.Errorf("failed to write grub.cfg: %w", err)
	}

	debugf("Bootloader configuration created in %s\n", bootDir)
	return nil
}
