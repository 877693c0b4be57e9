// Copyright 2024 The OSS Rebuild Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hashext

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDigest(t *testing.T) {
	path := writeTemp(t, "hello world")
	sum := sha256.Sum256([]byte("hello world"))
	want := hex.EncodeToString(sum[:])

	for _, name := range []string{"sha256", "SHA256", "Sha256"} {
		got, err := Digest(path, name)
		if err != nil {
			t.Fatalf("Digest(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("Digest(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestDigestUnknownAlgorithm(t *testing.T) {
	path := writeTemp(t, "data")
	if _, err := Digest(path, "crc32"); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestVerify(t *testing.T) {
	path := writeTemp(t, "hello world")
	sum := sha256.Sum256([]byte("hello world"))
	want := hex.EncodeToString(sum[:])

	if err := Verify(path, want, "sha256"); err != nil {
		t.Fatalf("Verify matching digest: %v", err)
	}
	// Case-insensitive compare.
	if err := Verify(path, strings.ToUpper(want), "sha256"); err != nil {
		t.Fatalf("Verify case-insensitive digest: %v", err)
	}
	err := Verify(path, "deadbeef", "sha256")
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	var hashErr *HashError
	if !errors.As(err, &hashErr) {
		t.Fatalf("expected *HashError, got %T: %v", err, err)
	}
	if hashErr.Want != "deadbeef" {
		t.Errorf("HashError.Want = %s, want deadbeef", hashErr.Want)
	}
}

func TestLookupAliasSHA(t *testing.T) {
	algo1, err := Lookup("sha")
	if err != nil {
		t.Fatalf("Lookup(sha): %v", err)
	}
	algo2, err := Lookup("sha1")
	if err != nil {
		t.Fatalf("Lookup(sha1): %v", err)
	}
	if algo1 != algo2 {
		t.Errorf("Lookup(sha) = %v, want same as Lookup(sha1) = %v", algo1, algo2)
	}
}
