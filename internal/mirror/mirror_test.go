// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/reposync/internal/config"
	"github.com/google/reposync/internal/fetcher"
	"github.com/google/reposync/internal/layout"
)

const packageABytes = "package-a-bytes"
const packageBBytes = "package-b-bytes"

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func primaryDoc() string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" packages="2">
  <package type="rpm">
    <checksum type="sha256">%s</checksum>
    <location href="Packages/a.rpm"/>
  </package>
  <package type="rpm">
    <checksum type="sha256">%s</checksum>
    <location href="Packages/b.rpm"/>
  </package>
</metadata>
`, sha256Hex(packageABytes), sha256Hex(packageBBytes))
}

func repomdDoc(primary string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <data type="primary">
    <checksum type="sha256">%s</checksum>
    <location href="repodata/primary.xml"/>
  </data>
</repomd>
`, sha256Hex(primary))
}

func rpmServer(t *testing.T) *httptest.Server {
	t.Helper()
	primary := primaryDoc()
	repomd := repomdDoc(primary)
	mux := http.NewServeMux()
	mux.HandleFunc("/repodata/repomd.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(repomd))
	})
	mux.HandleFunc("/repodata/primary.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(primary))
	})
	mux.HandleFunc("/Packages/a.rpm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(packageABytes))
	})
	mux.HandleFunc("/Packages/b.rpm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(packageBBytes))
	})
	mux.HandleFunc("/.treeinfo", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return httptest.NewServer(mux)
}

func newEngine(t *testing.T, baseURL string, repo *config.Repository) *Engine {
	t.Helper()
	repo.BaseURL = baseURL
	destination := t.TempDir()
	scratch := filepath.Join(destination, ".scratch")
	f, err := fetcher.New(http.DefaultClient, scratch, nil)
	if err != nil {
		t.Fatalf("fetcher.New: %v", err)
	}
	return New(repo, f, destination, nil)
}

func TestSyncRPM(t *testing.T) {
	server := rpmServer(t)
	defer server.Close()
	repo := &config.Repository{Name: "demo", Flavor: config.FlavorRPM, Treeinfo: ".treeinfo"}
	e := newEngine(t, server.URL+"/", repo)
	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	root := layout.SyncRoot(e.Dest, "demo")
	for _, want := range []string{
		"repodata/repomd.xml",
		"repodata/primary.xml",
		"Packages/a.rpm.sha256." + sha256Hex(packageABytes),
		"Packages/b.rpm.sha256." + sha256Hex(packageBBytes),
	} {
		if _, err := os.Stat(filepath.Join(root, want)); err != nil {
			t.Errorf("expected file %s: %v", want, err)
		}
	}
	// treeinfo is 404 and must be tolerated silently (no error, no file).
	if _, err := os.Stat(filepath.Join(root, ".treeinfo")); !os.IsNotExist(err) {
		t.Errorf(".treeinfo should not exist after a tolerated 404, stat err = %v", err)
	}
}

func TestSyncRPMIsIdempotentForPackages(t *testing.T) {
	var aFetches int
	primary := primaryDoc()
	repomd := repomdDoc(primary)
	mux := http.NewServeMux()
	mux.HandleFunc("/repodata/repomd.xml", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(repomd)) })
	mux.HandleFunc("/repodata/primary.xml", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(primary)) })
	mux.HandleFunc("/Packages/a.rpm", func(w http.ResponseWriter, r *http.Request) {
		aFetches++
		w.Write([]byte(packageABytes))
	})
	mux.HandleFunc("/Packages/b.rpm", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(packageBBytes)) })
	mux.HandleFunc("/.treeinfo", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	server := httptest.NewServer(mux)
	defer server.Close()

	repo := &config.Repository{Name: "demo", Flavor: config.FlavorRPM, Treeinfo: ".treeinfo"}
	e := newEngine(t, server.URL+"/", repo)
	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if aFetches != 1 {
		t.Errorf("a.rpm fetched %d times across two syncs, want 1 (content-addressed blob already present)", aFetches)
	}
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const debPackageContent = "0123456789"

func packagesDoc(t *testing.T) string {
	t.Helper()
	sum := sha256.Sum256([]byte(debPackageContent))
	return "Package: demo\nFilename: pool/d/demo_1.0_amd64.deb\nSize: 10\nSHA256: " +
		hex.EncodeToString(sum[:]) + "\n\n"
}

func TestSyncDeb(t *testing.T) {
	packagesGz := gzipBytes(t, packagesDoc(t))
	packagesSum := sha256.Sum256(packagesGz)
	releaseDoc := "Origin: Demo\nSuite: stable\nSHA256:\n " +
		hex.EncodeToString(packagesSum[:]) + " " + fmt.Sprint(len(packagesGz)) + " main/binary-amd64/Packages.gz\n"

	mux := http.NewServeMux()
	mux.HandleFunc("/dists/stable/InRelease", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(releaseDoc)) })
	mux.HandleFunc("/dists/stable/Release", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(releaseDoc)) })
	mux.HandleFunc("/dists/stable/Release.gpg", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	mux.HandleFunc("/dists/stable/main/binary-amd64/Packages.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(packagesGz)
	})
	mux.HandleFunc("/pool/d/demo_1.0_amd64.deb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(debPackageContent))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	repo := &config.Repository{
		Name: "debdemo", Flavor: config.FlavorDeb,
		Suites: []string{"stable"}, BinaryArchs: []string{"amd64"},
	}
	e := newEngine(t, server.URL+"/", repo)
	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	root := layout.SyncRoot(e.Dest, "debdemo")
	if _, err := os.Stat(filepath.Join(root, "dists/stable/Release")); err != nil {
		t.Errorf("Release missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "dists/stable/InRelease")); err != nil {
		t.Errorf("InRelease missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "dists/stable/Release.gpg")); !os.IsNotExist(err) {
		t.Errorf("Release.gpg should not exist after a tolerated 404, stat err = %v", err)
	}
	debSum := sha256.Sum256([]byte(debPackageContent))
	blob := filepath.Join(root, "pool/d/demo_1.0_amd64.deb.sha256."+hex.EncodeToString(debSum[:]))
	if _, err := os.Stat(blob); err != nil {
		t.Errorf("expected content-addressed deb blob: %v", err)
	}
}

func TestSyncUnknownFlavor(t *testing.T) {
	repo := &config.Repository{Name: "bad", Flavor: config.Flavor("unknown")}
	e := newEngine(t, "http://example.com/", repo)
	if err := e.Sync(context.Background()); err == nil {
		t.Fatal("expected error for unknown flavor")
	}
}
