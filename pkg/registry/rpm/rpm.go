// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package rpm reads RPM repository metadata (repomd.xml, primary.xml, and
// .treeinfo) already present on disk, the same documents
// yum/dnf consume from a mirrored "repodata/" tree (C3).
package rpm

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/google/reposync/pkg/ini"
)

// MetadataError reports that repomd.xml was missing or malformed, or that
// no primary.xml entry could be found within it.
type MetadataError struct {
	Path   string
	Reason string
}

func (e *MetadataError) Error() string {
	return "rpm metadata error: " + e.Path + ": " + e.Reason
}

// File is one <data>/<package> entry: its repository-relative location and
// the declared checksum of its content.
type File struct {
	Location string
	HashAlgo string
	HashSum  string
}

type repomdXML struct {
	XMLName xml.Name        `xml:"repomd"`
	Data    []repomdDataXML `xml:"data"`
}

type repomdDataXML struct {
	Checksum checksumXML `xml:"checksum"`
	Location locationXML `xml:"location"`
}

type checksumXML struct {
	Type string `xml:"type,attr"`
	Text string `xml:",chardata"`
}

type locationXML struct {
	Href string `xml:"href,attr"`
}

// RepomdFiles parses the repomd.xml at path, yielding every <data> entry
// (primary.xml, filelists.xml, other.xml, and any additional metadata
// files a repository declares), in document order.
func RepomdFiles(path string) ([]File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &MetadataError{Path: path, Reason: err.Error()}
	}
	defer f.Close()
	var doc repomdXML
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, &MetadataError{Path: path, Reason: err.Error()}
	}
	files := make([]File, 0, len(doc.Data))
	for _, d := range doc.Data {
		files = append(files, File{
			Location: d.Location.Href,
			HashAlgo: d.Checksum.Type,
			HashSum:  strings.TrimSpace(d.Checksum.Text),
		})
	}
	return files, nil
}

// PrimaryLocation returns the repomd-relative location of the primary.xml
// entry among files, matching "primary.xml" as a case-insensitive
// substring of the location the same way the original sync tooling did.
func PrimaryLocation(files []File) (string, error) {
	for _, f := range files {
		if strings.Contains(strings.ToLower(f.Location), "primary.xml") {
			return f.Location, nil
		}
	}
	return "", &MetadataError{Path: "repomd.xml", Reason: "no primary.xml entry found"}
}

type primaryXML struct {
	XMLName  xml.Name        `xml:"metadata"`
	Packages []primaryPkgXML `xml:"package"`
}

type primaryPkgXML struct {
	Checksum checksumXML `xml:"checksum"`
	Location locationXML `xml:"location"`
}

// Packages parses a primary.xml document (optionally gzip- or
// bzip2-compressed, selected by the file extension of path) and yields
// one File per <package> entry: its repository-relative location and
// declared checksum.
func Packages(path string) ([]File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	r, err := decompressed(path, f)
	if err != nil {
		return nil, err
	}
	var doc primaryXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	pkgs := make([]File, 0, len(doc.Packages))
	for _, p := range doc.Packages {
		pkgs = append(pkgs, File{
			Location: p.Location.Href,
			HashAlgo: p.Checksum.Type,
			HashSum:  strings.TrimSpace(p.Checksum.Text),
		})
	}
	return pkgs, nil
}

func decompressed(path string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "opening gzip stream %s", path)
		}
		return gz, nil
	case strings.HasSuffix(path, ".bz2"):
		return bzip2.NewReader(r), nil
	default:
		return bufio.NewReader(r), nil
	}
}

const checksumsSection = "checksums"
const repomdSentinel = "repodata/repomd.xml"

// TreeinfoFile is one file named by a .treeinfo document. HashAlgo/HashSum
// are empty when the file came from the images-*/stage2* fallback, which
// names files without a checksum.
type TreeinfoFile struct {
	Path     string
	HashAlgo string
	HashSum  string
}

// TreeinfoFiles parses a .treeinfo document (an INI file) and returns the
// files it names, preferring the [checksums] section (skipping its
// "repodata/repomd.xml" entry, already handled by RepomdFiles) and
// falling back to the union of every value in any "images-*" or
// "stage2*" section when no [checksums] section is present.
func TreeinfoFiles(path string) ([]TreeinfoFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	doc, err := ini.Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if section := doc.Section(checksumsSection); section != nil {
		files := make([]TreeinfoFile, 0, len(section.Values))
		for name, value := range section.Values {
			if name == repomdSentinel {
				continue
			}
			algo, sum, ok := strings.Cut(value, ":")
			if !ok {
				return nil, errors.Errorf("%s: malformed checksum entry %q=%q", path, name, value)
			}
			files = append(files, TreeinfoFile{Path: name, HashAlgo: algo, HashSum: sum})
		}
		return files, nil
	}
	seen := map[string]bool{}
	var files []TreeinfoFile
	for _, prefix := range []string{"images-", "stage2"} {
		for _, section := range doc.SectionsWithPrefix(prefix) {
			for _, value := range section.Values {
				if seen[value] {
					continue
				}
				seen[value] = true
				files = append(files, TreeinfoFile{Path: value})
			}
		}
	}
	return files, nil
}
