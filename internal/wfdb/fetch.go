package wfdb

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gookit/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// FetchError reports a failed source retrieval: network trouble, filesystem
// trouble, or a checksum mismatch on the downloaded bytes.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves source archives into the shared source cache.
type Fetcher struct {
	Logger     *log.Logger
	SourcesDir string
	Mirror     *MirrorConfig
	// Verify re-checks already-cached archives against their declared
	// checksum instead of trusting the cache hit, refetching on mismatch.
	Verify bool
}

// archiveName derives the cached filename for a source URL: its final path
// segment.
func archiveName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// Fetch downloads rawURL to dest unless dest already exists. A declared
// checksum is verified after download; a mismatch deletes the file and
// fails. All failures come back as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string, cs *Checksum) error {
	return f.fetch(ctx, rawURL, dest, cs, false)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL, dest string, cs *Checksum, quiet bool) error {
	if fileExists(dest) {
		if !f.Verify || cs == nil {
			debugf("Already in cache: %s\n", dest)
			return nil
		}
		err := verifyChecksum(dest, cs)
		if err == nil {
			debugf("Already in cache (verified): %s\n", dest)
			return nil
		}
		var mismatch *HashMismatchError
		if !errors.As(err, &mismatch) {
			return &FetchError{URL: rawURL, Err: err}
		}
		f.Logger.Warn("cached archive failed verification, refetching",
			"file", filepath.Base(dest), "err", err)
		if err := os.Remove(dest); err != nil {
			return &FetchError{URL: rawURL, Err: err}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &FetchError{URL: rawURL, Err: err}
	}

	// Lock file prevents races between the background prefetcher and the
	// main builder downloading the same archive.
	lockPath := dest + ".lock"
	lFile, err := os.Create(lockPath)
	if err != nil {
		return &FetchError{URL: rawURL, Err: fmt.Errorf("create lock file: %w", err)}
	}
	defer lFile.Close()

	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return &FetchError{URL: rawURL, Err: fmt.Errorf("acquire download lock: %w", err)}
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// DOUBLE CHECK: another fetcher may have finished the file while we
	// were waiting for the lock.
	if fileExists(dest) {
		debugf("File %s appeared after acquiring lock, skipping download.\n", dest)
		_ = os.Remove(lockPath)
		return nil
	}

	defer func() {
		if fileExists(dest) {
			_ = os.Remove(lockPath)
		}
	}()

	if err := f.download(ctx, rawURL, dest, quiet); err != nil {
		return &FetchError{URL: rawURL, Err: err}
	}

	if err := verifyChecksum(dest, cs); err != nil {
		var mismatch *HashMismatchError
		if errors.As(err, &mismatch) {
			_ = os.Remove(dest)
		}
		return &FetchError{URL: rawURL, Err: err}
	}
	return nil
}

// candidateURLs returns the URLs to try in order: the mirror copy first when
// mirror_first is configured, then upstream.
func (f *Fetcher) candidateURLs(rawURL string) []string {
	var urls []string
	if f.Mirror != nil && f.Mirror.MirrorFirst && f.Mirror.PublicURL != "" {
		base := strings.TrimRight(f.Mirror.PublicURL, "/")
		if prefix := strings.Trim(f.Mirror.Prefix, "/"); prefix != "" {
			base += "/" + prefix
		}
		urls = append(urls, base+"/"+archiveName(rawURL))
	}
	return append(urls, rawURL)
}

// download transfers the archive through a .part file so a failed transfer
// never masquerades as a cached archive.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string, quiet bool) error {
	part := dest + ".part"
	var lastErr error
	for _, u := range f.candidateURLs(rawURL) {
		if err := f.downloadOnce(ctx, u, part, quiet); err != nil {
			lastErr = err
			_ = os.Remove(part)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if u != rawURL {
				debugf("mirror download failed (%v), trying upstream\n", err)
			}
			continue
		}
		return os.Rename(part, dest)
	}
	return lastErr
}

// downloadOnce fetches a single URL: curl when available, then wget, then
// the native Go HTTP client.
func (f *Fetcher) downloadOnce(ctx context.Context, srcURL, dest string, quiet bool) error {
	debugf("Downloading %s -> %s\n", srcURL, dest)

	if _, err := exec.LookPath("curl"); err == nil {
		if err := downloadWithCurl(ctx, srcURL, dest, quiet); err == nil {
			return nil
		}
		debugf("curl failed, falling back to wget\n")
	} else {
		debugf("curl not found, trying wget\n")
	}

	if _, err := exec.LookPath("wget"); err == nil {
		if err := downloadWithWget(ctx, srcURL, dest, quiet); err == nil {
			return nil
		}
		debugf("wget failed, falling back to native Go HTTP client\n")
	} else {
		debugf("wget not found, using native Go HTTP client\n")
	}

	return downloadNative(ctx, srcURL, dest, quiet)
}

func downloadWithCurl(ctx context.Context, srcURL, dest string, quiet bool) error {
	args := []string{"-L", "--fail", "-o", dest}
	if quiet {
		args = append(args, "-sS")
	} else {
		args = append(args, "-#")
	}
	args = append(args, srcURL)
	cmd := exec.CommandContext(ctx, "curl", args...)

	if quiet {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		return cmd.Run()
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Stdout = os.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start curl: %w", err)
	}

	if stderrPipe != nil {
		// Colorize curl's '#' progress lines without disturbing anything else.
		go func() {
			reader := bufio.NewReader(stderrPipe)
			blue := "\x1b[" + color.Blue.Code() + "m"
			reset := "\x1b[0m"
			for {
				lineBytes, err := reader.ReadBytes('\r')
				if len(lineBytes) > 0 {
					line := string(lineBytes)
					if strings.HasPrefix(strings.TrimSpace(line), "#") {
						fmt.Fprintf(os.Stderr, "%s%s%s", blue, line, reset)
					} else {
						fmt.Fprint(os.Stderr, line)
					}
				}
				if err != nil {
					break
				}
			}
		}()
	}

	return cmd.Wait()
}

func downloadWithWget(ctx context.Context, srcURL, dest string, quiet bool) error {
	args := []string{"-O", dest}
	if quiet {
		args = append([]string{"-q"}, args...)
	} else {
		args = append([]string{"-nv"}, args...)
	}
	args = append(args, srcURL)
	cmd := exec.CommandContext(ctx, "wget", args...)
	if quiet {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	return cmd.Run()
}

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Default is 10s; slow hosts like busybox.net need more headroom.
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total timeout for large downloads
	}
}

func downloadNative(ctx context.Context, srcURL, dest string, quiet bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return err
	}
	resp, err := newHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dest, err)
	}
	defer out.Close()

	var w io.Writer = out
	if !quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(dest))
		defer bar.Close()
		w = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}
	return nil
}

// PrefetchSources downloads every declared package archive with bounded
// concurrency. The per-file locks in the fetch path make overlap with a
// running build safe; entries without a URL are skipped.
func (f *Fetcher) PrefetchSources(ctx context.Context, pkgs []Package) error {
	if len(pkgs) == 0 {
		return nil
	}

	concurrencyLimit := 10
	debugf("Prefetching %d sources (concurrency: %d)...\n", len(pkgs), concurrencyLimit)

	sem := make(chan struct{}, concurrencyLimit)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for i := range pkgs {
		pkg := &pkgs[i]
		if pkg.URL == "" {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			dest := filepath.Join(f.SourcesDir, archiveName(pkg.URL))
			if err := f.fetch(ctx, pkg.URL, dest, pkg.Checksum(), true); err != nil {
				once.Do(func() { firstErr = err })
				f.Logger.Warn("prefetch failed", "package", pkg.Name, "err", err)
			}
		}()
	}

	wg.Wait()
	debugf("Prefetch completed.\n")
	return firstErr
}
