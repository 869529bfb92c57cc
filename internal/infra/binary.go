package infra

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// InstallBinary copies src to dst with mode 0755. It is a no-op when both
// name the same file or already have identical contents.
func InstallBinary(src, dst string) (copied bool, err error) {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return false, err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return false, err
	}
	if srcAbs == dstAbs {
		return false, nil
	}

	srcSum, err := computeSHA256(srcAbs)
	if err != nil {
		return false, fmt.Errorf("failed to hash %s: %w", srcAbs, err)
	}
	if dstSum, err := computeSHA256(dstAbs); err == nil && dstSum == srcSum {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dstAbs), 0755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(dstAbs), err)
	}
	if err := copyFile(srcAbs, dstAbs, 0755); err != nil {
		return false, fmt.Errorf("failed to install binary: %w", err)
	}

	// Verify the copy before reporting success
	if dstSum, err := computeSHA256(dstAbs); err != nil || dstSum != srcSum {
		return false, fmt.Errorf("installed binary %s does not match source", dstAbs)
	}
	return true, nil
}

func computeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFile writes a temp file next to dst, syncs it and renames it into
// place, so a running copy of dst is never half-written.
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+AppName+"-copy-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}

	success = true
	return nil
}
