package wfdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// cleanSources removes extracted trees from the source cache. With all=true
// the cached archives, the log directory, and any stale .lock/.part
// remnants go too. Destructive action is confirmed unless assumeYes.
func cleanSources(cfg *Config, all, assumeYes bool) error {
	srcDir := cfg.Build.SourcesDir
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			colArrow.Print("-> ")
			colSuccess.Println("Source cache is empty.")
			return nil
		}
		return err
	}

	var dirs, files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if name == "log" && !all {
				continue
			}
			dirs = append(dirs, name)
			continue
		}
		if all || strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".part") {
			files = append(files, name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)

	if len(dirs) == 0 && len(files) == 0 {
		colArrow.Print("-> ")
		colSuccess.Println("Nothing to clean.")
		return nil
	}

	colArrow.Print("-> ")
	if all {
		cPrintf(colWarn, "Deleting %d extracted trees and %d cached files at %s.\n", len(dirs), len(files), srcDir)
	} else {
		cPrintf(colWarn, "Deleting %d extracted trees at %s.\n", len(dirs), srcDir)
	}
	if !assumeYes && !askForConfirmation(colArrow, "Are you sure you want to proceed?") {
		colArrow.Print("-> ")
		colSuccess.Println("Cleanup canceled.")
		return nil
	}

	for _, d := range dirs {
		p := filepath.Join(srcDir, d)
		debugf("Removing %s\n", p)
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	for _, f := range files {
		p := filepath.Join(srcDir, f)
		debugf("Removing %s\n", p)
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	colArrow.Print("-> ")
	colSuccess.Println("Source cache cleaned.")
	return nil
}
