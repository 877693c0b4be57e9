// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package deb reads Debian archive metadata (deb822 Release documents and
// gzip-compressed Packages indexes) already present on disk, the same
// documents apt consumes from a mirrored "dists/" tree (C4).
package deb

import (
	"bufio"
	"compress/gzip"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReleaseFile is one entry of a Release document's SHA256 block: a
// suite-relative path together with its declared digest and size.
type ReleaseFile struct {
	Path   string
	SHA256 string
	Size   int64
}

const sha256Header = "SHA256:"

// ParseRelease reads a deb822 Release document and returns the entries of
// its SHA256 checksum block. Each block entry is an indented continuation
// line of the form "<hex> <size> <path>"; the block ends at the first
// non-indented line following "SHA256:".
func ParseRelease(path string) ([]ReleaseFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	var files []ReleaseFile
	inBlock := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !inBlock {
			if strings.HasPrefix(line, sha256Header) {
				inBlock = true
			}
			continue
		}
		if !strings.HasPrefix(line, " ") {
			break
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, errors.Errorf("%s: malformed SHA256 entry %q", path, line)
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: parsing size in %q", path, line)
		}
		files = append(files, ReleaseFile{Path: fields[2], SHA256: fields[0], Size: size})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return files, nil
}

// Package is one stanza of a Packages index: its archive-relative
// filename, declared SHA256 digest, and size.
type Package struct {
	Filename string
	SHA256   string
	Size     int64
}

const (
	sha256Prefix   = "SHA256: "
	filenamePrefix = "Filename: "
	sizePrefix     = "Size: "
)

// ParsePackages streams a gzip-compressed deb822 Packages document,
// yielding one Package per stanza as soon as its Filename, SHA256, and
// Size fields have all been seen (the stanza's remaining fields, and its
// blank-line terminator, are ignored).
func ParsePackages(path string) ([]Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "opening gzip stream %s", path)
	}
	defer gz.Close()
	var (
		pkgs             []Package
		filename, sha256 string
		size             int64
		haveSize         bool
	)
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, sha256Prefix):
			sha256 = strings.TrimSpace(strings.TrimPrefix(line, sha256Prefix))
		case strings.HasPrefix(line, filenamePrefix):
			filename = strings.TrimSpace(strings.TrimPrefix(line, filenamePrefix))
		case strings.HasPrefix(line, sizePrefix):
			n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, sizePrefix)), 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: parsing Size field %q", path, line)
			}
			size, haveSize = n, true
		}
		if filename != "" && sha256 != "" && haveSize {
			pkgs = append(pkgs, Package{Filename: filename, SHA256: sha256, Size: size})
			filename, sha256, haveSize = "", "", false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return pkgs, nil
}
