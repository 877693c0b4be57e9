// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package snapshot implements the snapshot store (C6): the directory and
// symlink data model that materializes an immutable view of a repository's
// sync tree at a timestamp, the naming/renaming of snapshots via aliases,
// and cleanup of snapshots no alias references.
package snapshot

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/google/reposync/internal/layout"
	"github.com/google/reposync/internal/logging"
)

// NotFoundError reports that snap_name's source did not resolve to an
// existing timestamp directory.
type NotFoundError struct {
	Source string
}

func (e *NotFoundError) Error() string { return "snapshot not found: " + e.Source }

const timestampLayout = "20060102150405"

// Timestamp formats t (UTC) as the 14-digit snapshot directory name (I5).
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// isTimestamp reports whether s is a 14-digit timestamp (I5), the same
// length check snap_name uses to distinguish a timestamp source from an
// alias name.
func isTimestamp(s string) bool {
	if len(s) != 14 {
		return false
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return false
	}
	return true
}

// Entry is one package declared by current metadata: its path relative to
// the sync/snapshot root, and the content-addressed blob it resolves to.
type Entry struct {
	Path     string
	BlobPath string // relative to sync/<reponame>, e.g. "Packages/a.rpm.sha256.11aa"
}

// Store operates the snapshot tree for one repository.
type Store struct {
	Destination string
	Reponame    string
	Log         *logging.Logger
}

// New builds a Store. log may be nil, in which case logging.Default() is used.
func New(destination, reponame string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Default()
	}
	return &Store{Destination: destination, Reponame: reponame, Log: log.ForRepo(reponame)}
}

func (s *Store) syncRoot() string { return layout.SyncRoot(s.Destination, s.Reponame) }
func (s *Store) snapRoot() string { return layout.SnapRoot(s.Destination, s.Reponame) }

// Snap materializes a new snapshot at the given timestamp: metadataFiles
// are copied verbatim (relative paths within the sync tree); entries are
// linked as symlinks into their content-addressed blobs. It writes the
// "timestamp" marker last and then atomically repoints "latest".
func (s *Store) Snap(timestamp string, metadataFiles []string, entries []Entry) error {
	if !isTimestamp(timestamp) {
		return errors.Errorf("invalid snapshot timestamp %q", timestamp)
	}
	root := layout.SnapPath(s.Destination, s.Reponame, timestamp)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrapf(err, "creating snapshot root %s", root)
	}
	s.Log.Printf("copying metadata into snapshot %s", timestamp)
	for _, rel := range metadataFiles {
		if err := copyFile(filepath.Join(s.syncRoot(), rel), filepath.Join(root, rel)); err != nil {
			return errors.Wrapf(err, "copying metadata file %s", rel)
		}
	}
	s.Log.Printf("linking packages into snapshot %s", timestamp)
	for _, e := range entries {
		dst := filepath.Join(root, e.Path)
		src := filepath.Join(s.syncRoot(), e.BlobPath)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrapf(err, "creating directory for %s", dst)
		}
		if err := os.Symlink(src, dst); err != nil {
			if os.IsExist(err) {
				s.Log.Printf("could not link %s: %v", e.Path, err)
				continue
			}
			return errors.Wrapf(err, "linking %s", e.Path)
		}
	}
	marker := filepath.Join(root, layout.TimestampKey)
	if err := os.WriteFile(marker, []byte(timestamp+"\n"), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", marker)
	}
	return s.setLatest(timestamp)
}

// setLatest atomically repoints "latest" at timestamp: I4 requires this to
// happen only after the snapshot directory is complete.
func (s *Store) setLatest(timestamp string) error {
	if err := os.MkdirAll(s.snapRoot(), 0o755); err != nil {
		return err
	}
	return atomicSymlink(timestamp, layout.LatestPath(s.Destination, s.Reponame))
}

// atomicSymlink creates path -> target, replacing any existing symlink at
// path via a temporary name plus rename so readers never see a transient
// unlinked state after the old link is removed and before the new one
// exists (I4, I6, P6).
func atomicSymlink(target, path string) error {
	tmp := path + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.Symlink(target, tmp); err != nil {
		return errors.Wrapf(err, "creating temporary alias for %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "publishing alias %s", path)
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Timestamps lists every 14-digit timestamp directory under the snapshot
// root, sorted ascending.
func (s *Store) Timestamps() ([]string, error) {
	entries, err := os.ReadDir(s.snapRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading %s", s.snapRoot())
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && isTimestamp(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// resolveAlias reads the target timestamp of an alias symlink (latest or
// named/<name>); ok is false if the alias does not exist.
func resolveAlias(path string) (target string, ok bool, err error) {
	target, err = os.Readlink(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return target, true, nil
}

// Latest returns the timestamp latest currently points at, or ok=false if
// latest does not exist (the repository has never been snapped).
func (s *Store) Latest() (timestamp string, ok bool, err error) {
	return resolveAlias(layout.LatestPath(s.Destination, s.Reponame))
}

// Names lists the repository's named aliases.
func (s *Store) Names() ([]Name, error) {
	entries, err := os.ReadDir(layout.NamedRoot(s.Destination, s.Reponame))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading named aliases")
	}
	var names []Name
	for _, e := range entries {
		target, ok, err := resolveAlias(layout.NamedPath(s.Destination, s.Reponame, e.Name()))
		if err != nil {
			return nil, err
		}
		name := Name{Name: e.Name(), Target: target}
		if ok {
			if _, statErr := os.Stat(layout.SnapPath(s.Destination, s.Reponame, target)); statErr != nil {
				name.Dangling = true
			}
		} else {
			name.Dangling = true
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Name < names[j].Name })
	return names, nil
}

// Name is one resolved named alias.
type Name struct {
	Name     string
	Target   string
	Dangling bool
}

// NameSnapshot resolves source (a 14-digit timestamp, "latest", or the name
// of an existing named alias) and creates/replaces named/<name> pointing at
// it.
func (s *Store) NameSnapshot(source, name string) error {
	timestamp, err := s.resolveSource(source)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(layout.NamedRoot(s.Destination, s.Reponame), 0o755); err != nil {
		return err
	}
	return atomicSymlink(timestamp, layout.NamedPath(s.Destination, s.Reponame, name))
}

func (s *Store) resolveSource(source string) (string, error) {
	timestamp := source
	if !isTimestamp(source) {
		aliasPath := layout.NamedPath(s.Destination, s.Reponame, source)
		if source == layout.LatestLink {
			aliasPath = layout.LatestPath(s.Destination, s.Reponame)
		}
		target, ok, err := resolveAlias(aliasPath)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", &NotFoundError{Source: source}
		}
		timestamp = target
	}
	if _, err := os.Stat(layout.SnapPath(s.Destination, s.Reponame, timestamp)); err != nil {
		return "", &NotFoundError{Source: source}
	}
	return timestamp, nil
}

// Unname removes named/<name>; absent is not an error.
func (s *Store) Unname(name string) error {
	err := os.Remove(layout.NamedPath(s.Destination, s.Reponame, name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing alias %s", name)
	}
	return nil
}

// Cleanup removes every timestamp snapshot directory that is not in the
// referenced set R = {latest's target} ∪ {every named alias's target}.
// It returns the timestamps it removed.
func (s *Store) Cleanup() ([]string, error) {
	referenced := map[string]bool{}
	if target, ok, err := s.Latest(); err != nil {
		return nil, err
	} else if ok {
		referenced[target] = true
	}
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		if !n.Dangling {
			referenced[n.Target] = true
		} else {
			s.Log.Printf("dangling named alias %s -> %s", n.Name, n.Target)
		}
	}
	timestamps, err := s.Timestamps()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, ts := range timestamps {
		if referenced[ts] {
			continue
		}
		if err := os.RemoveAll(layout.SnapPath(s.Destination, s.Reponame, ts)); err != nil {
			return removed, errors.Wrapf(err, "removing snapshot %s", ts)
		}
		removed = append(removed, ts)
	}
	return removed, nil
}
