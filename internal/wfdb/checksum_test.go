package wfdb

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"lukechampine.com/blake3"
)

func TestParseChecksum(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantAlgo string
		wantVal  string
	}{
		{"bare hex defaults to md5", "d41d8cd98f00b204e9800998ecf8427e", "md5", "d41d8cd98f00b204e9800998ecf8427e"},
		{"explicit sha256", "sha256:abc123", "sha256", "abc123"},
		{"explicit blake3", "blake3:ff00", "blake3", "ff00"},
		{"uppercase is lowered", "SHA1:ABCDEF", "sha1", "abcdef"},
		{"whitespace trimmed", " sha512 : 1234 ", "sha512", "1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := parseChecksum(tt.raw)
			if cs.Algorithm != tt.wantAlgo {
				t.Errorf("Algorithm = %q, want %q", cs.Algorithm, tt.wantAlgo)
			}
			if cs.Value != tt.wantVal {
				t.Errorf("Value = %q, want %q", cs.Value, tt.wantVal)
			}
		})
	}
}

func TestPackageChecksumPrecedence(t *testing.T) {
	pkg := Package{Hash: "sha256:aa", MD5: "bb"}
	cs := pkg.Checksum()
	if cs == nil {
		t.Fatal("Checksum() = nil, want sha256 checksum")
	}
	if cs.Algorithm != "sha256" || cs.Value != "aa" {
		t.Errorf("hash should win over md5, got %s:%s", cs.Algorithm, cs.Value)
	}

	pkg = Package{MD5: "bb"}
	cs = pkg.Checksum()
	if cs == nil || cs.Algorithm != "md5" || cs.Value != "bb" {
		t.Errorf("md5 fallback broken, got %+v", cs)
	}

	pkg = Package{}
	if pkg.Checksum() != nil {
		t.Error("Checksum() should be nil when neither field is set")
	}
}

func TestFileDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	content := []byte("hello wfdb\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	sum := md5.Sum(content)
	got, err := fileDigest(path, "md5")
	if err != nil {
		t.Fatalf("fileDigest(md5) error: %v", err)
	}
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Errorf("md5 digest = %s, want %s", got, want)
	}

	sum256 := sha256.Sum256(content)
	got, err = fileDigest(path, "sha256")
	if err != nil {
		t.Fatalf("fileDigest(sha256) error: %v", err)
	}
	if want := hex.EncodeToString(sum256[:]); got != want {
		t.Errorf("sha256 digest = %s, want %s", got, want)
	}

	if _, err := fileDigest(path, "crc32"); err == nil {
		t.Error("unsupported algorithm should fail")
	}
}

func TestVerifyChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	content := []byte("archive bytes")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	sum := md5.Sum(content)
	good := hex.EncodeToString(sum[:])

	cs := parseChecksum(good)
	if err := verifyChecksum(path, &cs); err != nil {
		t.Errorf("correct digest should verify: %v", err)
	}

	// A single flipped byte must be caught.
	mutated := append([]byte{}, content...)
	mutated[0] ^= 0x01
	if err := os.WriteFile(path, mutated, 0o644); err != nil {
		t.Fatal(err)
	}
	err := verifyChecksum(path, &cs)
	var mismatch *HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("mutated content should yield HashMismatchError, got %v", err)
	}
	if mismatch.Expected != good {
		t.Errorf("mismatch Expected = %s, want %s", mismatch.Expected, good)
	}

	if err := verifyChecksum(path, nil); err != nil {
		t.Errorf("nil checksum should verify trivially: %v", err)
	}
}

func TestBlake3Digest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := fileDigest(path, "blake3")
	if err != nil {
		t.Fatalf("fileDigest(blake3) error: %v", err)
	}
	sum := blake3.Sum256([]byte("abc"))
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Errorf("blake3 digest = %s, want %s", got, want)
	}
}
