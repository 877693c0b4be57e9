// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package hashext

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// HashError reports that a computed digest disagreed with the digest
// declared by upstream metadata (§7: retried internally by the fetcher,
// surfaced as a DownloadError after retry exhaustion; reported per-file,
// non-fatally, by validate).
type HashError struct {
	Path string
	Algo string
	Want string
	Got  string
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash mismatch for %s (%s): want %s, got %s", e.Path, e.Algo, e.Want, e.Got)
}

// Digest streams path through algo and returns the lowercase hex digest.
// The implementation never loads the whole file into memory.
func Digest(path, algo string) (string, error) {
	h, err := Lookup(algo)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	th := NewTypedHash(h)
	if _, err := io.Copy(th, f); err != nil {
		return "", errors.Wrapf(err, "hashing %s", path)
	}
	return th.HexSum(), nil
}

// HexSum returns the lowercase hex-encoded digest accumulated so far.
func (t TypedHash) HexSum() string {
	return hex.EncodeToString(t.Sum(nil))
}

// Verify streams path through algo and compares the result to expectedHex
// (case-insensitive, per I1's lowercase-hex convention and upstream
// metadata that is not always normalized to lowercase). Returns a
// *HashError on mismatch.
func Verify(path, expectedHex, algo string) error {
	got, err := Digest(path, algo)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, expectedHex) {
		return &HashError{Path: path, Algo: algo, Want: strings.ToLower(expectedHex), Got: got}
	}
	return nil
}
