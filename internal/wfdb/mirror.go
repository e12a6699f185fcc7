package wfdb

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// localMirrorFiles scans the source cache for files worth mirroring:
// archives and patches, never lock files, partial downloads, or anything
// under the log directory (directories are skipped wholesale).
func localMirrorFiles(sourcesDir string) (map[string]int64, error) {
	entries, err := os.ReadDir(sourcesDir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]int64)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".part") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files[name] = info.Size()
	}
	return files, nil
}

// mirrorPush uploads every cache file absent from the bucket, or present
// with a different size, under the configured prefix. One confirmation
// covers the whole batch.
func mirrorPush(ctx context.Context, cfg *Config) error {
	client, err := NewMirrorClient(&cfg.Mirror)
	if err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Println("Fetching mirror object list")
	remote, err := client.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list mirror bucket: %w", err)
	}
	remoteSizes := make(map[string]int64, len(remote))
	for _, obj := range remote {
		remoteSizes[obj.Key] = obj.Size
	}

	local, err := localMirrorFiles(cfg.Build.SourcesDir)
	if err != nil {
		return err
	}

	var names []string
	var totalSize int64
	for name, size := range local {
		if rs, ok := remoteSizes[client.objectKey(name)]; ok && rs == size {
			continue
		}
		names = append(names, name)
		totalSize += size
	}
	sort.Strings(names)

	if len(names) == 0 {
		colArrow.Print("-> ")
		colSuccess.Println("Mirror is up to date")
		return nil
	}

	colArrow.Print("-> ")
	if !askForConfirmation(colWarn, "Upload %d files (%s) to bucket %s?", len(names), humanReadableSize(totalSize), cfg.Mirror.Bucket) {
		return nil
	}

	for i, name := range names {
		colArrow.Print("-> ")
		colSuccess.Print("Uploading: ")
		colNote.Printf("%s (%d/%d, %s)\n", name, i+1, len(names), humanReadableSize(local[name]))
		if err := client.UploadLocal(ctx, name, filepath.Join(cfg.Build.SourcesDir, name)); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Mirror push complete: %d files uploaded\n", len(names))
	return nil
}

// mirrorPull downloads every bucket object missing from the source cache.
func mirrorPull(ctx context.Context, cfg *Config) error {
	client, err := NewMirrorClient(&cfg.Mirror)
	if err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Println("Fetching mirror object list")
	remote, err := client.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list mirror bucket: %w", err)
	}

	if err := os.MkdirAll(cfg.Build.SourcesDir, 0o755); err != nil {
		return err
	}

	var fetched int
	for _, obj := range remote {
		name := path.Base(obj.Key)
		if name == "." || name == "/" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		dest := filepath.Join(cfg.Build.SourcesDir, name)
		if fileExists(dest) {
			debugf("Already in cache: %s\n", name)
			continue
		}
		colArrow.Print("-> ")
		colSuccess.Print("Downloading: ")
		colNote.Printf("%s (%s)\n", name, humanReadableSize(obj.Size))
		if err := client.DownloadTo(ctx, obj.Key, dest); err != nil {
			return fmt.Errorf("failed to download %s: %w", obj.Key, err)
		}
		fetched++
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Mirror pull complete: %d new files\n", fetched)
	return nil
}
