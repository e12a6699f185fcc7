package wfdb

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// Checksum is a declared content digest: an algorithm name and the expected
// hex value.
type Checksum struct {
	Algorithm string
	Value     string
}

// parseChecksum interprets a declared digest string. A bare hex value is an
// MD5 digest; "algo:hex" selects the algorithm explicitly.
func parseChecksum(raw string) Checksum {
	if algo, val, ok := strings.Cut(raw, ":"); ok {
		return Checksum{
			Algorithm: strings.ToLower(strings.TrimSpace(algo)),
			Value:     strings.ToLower(strings.TrimSpace(val)),
		}
	}
	return Checksum{Algorithm: "md5", Value: strings.ToLower(strings.TrimSpace(raw))}
}

// newHasher returns the hash implementation for a checksum algorithm.
func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "blake3":
		return blake3.New(32, nil), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
}

// fileDigest computes the hex digest of the file at path.
func fileDigest(path, algorithm string) (string, error) {
	h, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashMismatchError reports a file whose digest did not match its declared
// checksum.
type HashMismatchError struct {
	Path      string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch for %s: expected %s, got %s",
		e.Algorithm, e.Path, e.Expected, e.Actual)
}

// verifyChecksum checks the file at path against cs. A nil checksum verifies
// trivially.
func verifyChecksum(path string, cs *Checksum) error {
	if cs == nil {
		return nil
	}
	actual, err := fileDigest(path, cs.Algorithm)
	if err != nil {
		return err
	}
	if actual != cs.Value {
		return &HashMismatchError{
			Path:      path,
			Algorithm: cs.Algorithm,
			Expected:  cs.Value,
			Actual:    actual,
		}
	}
	return nil
}
