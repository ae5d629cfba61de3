package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrHashMismatch is returned by VerifyFileHash when the digest differs.
var ErrHashMismatch = errors.New("hash mismatch")

// ComputeBlake3Hash computes the BLAKE3 hash of a file as lowercase hex.
func ComputeBlake3Hash(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != strings.ToLower(expectedHash) {
		return fmt.Errorf("%w for %s: expected %s, got %s",
			ErrHashMismatch, filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}
