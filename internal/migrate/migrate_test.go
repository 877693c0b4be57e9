// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/reposync/internal/layout"
	"github.com/google/reposync/internal/snapshot"
)

func TestMigrateRenamesAndRelinks(t *testing.T) {
	destination := t.TempDir()
	reponame := "demo"
	syncRoot := layout.SyncRoot(destination, reponame)
	if err := os.MkdirAll(filepath.Join(syncRoot, "Packages"), 0o755); err != nil {
		t.Fatal(err)
	}
	oldPath := filepath.Join(syncRoot, "Packages", "a.rpm")
	if err := os.WriteFile(oldPath, []byte("blob-a"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries := []snapshot.Entry{{Path: "Packages/a.rpm", BlobPath: "Packages/a.rpm.sha256.aaaa"}}

	snapRoot := layout.SnapPath(destination, reponame, "20240101000000")
	if err := os.MkdirAll(filepath.Join(snapRoot, "Packages"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(oldPath, filepath.Join(snapRoot, "Packages", "a.rpm")); err != nil {
		t.Fatal(err)
	}

	if err := Migrate(destination, reponame, entries, nil); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	newPath := filepath.Join(syncRoot, "Packages", "a.rpm.sha256.aaaa")
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("blob not renamed to content-addressed path: %v", err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("old path should no longer exist, stat err = %v", err)
	}
	link := filepath.Join(snapRoot, "Packages", "a.rpm")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != newPath {
		t.Errorf("snapshot symlink target = %q, want %q", target, newPath)
	}

	sentinel := filepath.Join(syncRoot, "migrated")
	if _, err := os.Stat(sentinel); err != nil {
		t.Errorf("sentinel file missing: %v", err)
	}
}

func TestMigrateNoOpWhenAlreadyDone(t *testing.T) {
	destination := t.TempDir()
	reponame := "demo"
	syncRoot := layout.SyncRoot(destination, reponame)
	if err := os.MkdirAll(syncRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(syncRoot, "migrated"), []byte("migrated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !AlreadyMigrated(destination, reponame) {
		t.Fatal("AlreadyMigrated = false, want true")
	}
	if err := Migrate(destination, reponame, nil, nil); err != nil {
		t.Fatalf("Migrate should no-op without error: %v", err)
	}
}

func TestMigrateSkipsMissingFiles(t *testing.T) {
	destination := t.TempDir()
	reponame := "demo"
	syncRoot := layout.SyncRoot(destination, reponame)
	if err := os.MkdirAll(syncRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	entries := []snapshot.Entry{{Path: "Packages/missing.rpm", BlobPath: "Packages/missing.rpm.sha256.aaaa"}}
	if err := Migrate(destination, reponame, entries, nil); err != nil {
		t.Fatalf("Migrate should log and continue past a missing file: %v", err)
	}
	if !AlreadyMigrated(destination, reponame) {
		t.Error("sentinel should still be written even when every file failed to migrate")
	}
}
