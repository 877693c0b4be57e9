// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package layout centralizes the on-disk path layout rooted at a
// reposync destination directory (§3):
//
//	<destination>/sync/<reponame>/...
//	<destination>/snap/<reponame>/<timestamp>/...
//	<destination>/snap/<reponame>/latest
//	<destination>/snap/<reponame>/named/<name>
package layout

import "path/filepath"

const (
	SyncDir      = "sync"
	SnapDir      = "snap"
	LatestLink   = "latest"
	NamedDir     = "named"
	TimestampKey = "timestamp" // marker file written inside each snapshot root
)

// SyncRoot returns the live mirror root for reponame.
func SyncRoot(destination, reponame string) string {
	return filepath.Join(destination, SyncDir, reponame)
}

// SnapRoot returns the snapshot store root for reponame.
func SnapRoot(destination, reponame string) string {
	return filepath.Join(destination, SnapDir, reponame)
}

// SnapPath returns the root of a single timestamped snapshot.
func SnapPath(destination, reponame, timestamp string) string {
	return filepath.Join(SnapRoot(destination, reponame), timestamp)
}

// LatestPath returns the path of the "latest" alias symlink.
func LatestPath(destination, reponame string) string {
	return filepath.Join(SnapRoot(destination, reponame), LatestLink)
}

// NamedRoot returns the directory holding named aliases.
func NamedRoot(destination, reponame string) string {
	return filepath.Join(SnapRoot(destination, reponame), NamedDir)
}

// NamedPath returns the path of a single named alias symlink.
func NamedPath(destination, reponame, name string) string {
	return filepath.Join(NamedRoot(destination, reponame), name)
}
