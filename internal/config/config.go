// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package config loads reposync's INI configuration file (§6) into the
// Repository definitions the mirror engine, snapshot store, and job runner
// operate on.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/google/reposync/pkg/ini"
)

// Flavor is the repository family: rpm (repomd/repodata) or deb (dists).
type Flavor string

const (
	FlavorRPM Flavor = "rpm"
	FlavorDeb Flavor = "deb"
)

// ConfigError reports a fatal configuration problem (§7): both --repo and
// --tags supplied, or a duplicate reponame.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

// Repository is one configured upstream mirror target (§3).
type Repository struct {
	Name    string
	Flavor  Flavor
	BaseURL string
	Tags    []string

	AllowMissingPackages bool

	// Transport credentials, shared by both flavors.
	Proxy          string
	SSLClientCert  string
	SSLClientKey   string
	SSLCACert      string
	BasicAuthUser  string
	BasicAuthPass  string
	RateLimitPerSec float64 // 0 means unlimited; additive beyond spec.md's baseline (§4.1).

	// RPM-specific.
	Treeinfo string

	// Debian-specific.
	Suites       []string
	Components   []string
	BinaryArchs  []string
}

// Config is the top-level parsed configuration (§6, section "main" plus one
// "<name>:rpm" or "<name>:deb822" section per repository).
type Config struct {
	Destination string
	Downloaders int
	LogLevel    string
	Proxy       string

	Repositories []*Repository
}

const defaultTreeinfo = ".treeinfo"

// Load reads and parses the INI file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()
	file, err := ini.Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return fromINI(file)
}

func fromINI(file *ini.File) (*Config, error) {
	cfg := &Config{Downloaders: 1}
	if main := file.Section("main"); main != nil {
		cfg.Destination = main.Values["destination"]
		cfg.LogLevel = main.Values["loglevel"]
		cfg.Proxy = main.Values["proxy"]
		if v, ok := main.Values["downloaders"]; ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing main.downloaders %q", v)
			}
			cfg.Downloaders = n
		}
	}
	seen := map[string]bool{}
	for name, section := range file.Sections {
		reponame, flavor, ok := splitRepoSection(name)
		if !ok {
			continue
		}
		if seen[reponame] {
			return nil, &ConfigError{Reason: "duplicate reponame " + reponame}
		}
		seen[reponame] = true
		repo, err := repositoryFromSection(reponame, flavor, section)
		if err != nil {
			return nil, errors.Wrapf(err, "repository %s", reponame)
		}
		if repo.Proxy == "" {
			repo.Proxy = cfg.Proxy
		}
		cfg.Repositories = append(cfg.Repositories, repo)
	}
	return cfg, nil
}

// splitRepoSection splits a section name of the form "<name>:rpm" or
// "<name>:deb822" into its reponame and flavor.
func splitRepoSection(name string) (reponame string, flavor Flavor, ok bool) {
	idx := strings.LastIndexByte(name, ':')
	if idx == -1 {
		return "", "", false
	}
	switch name[idx+1:] {
	case "rpm":
		return name[:idx], FlavorRPM, true
	case "deb822":
		return name[:idx], FlavorDeb, true
	default:
		return "", "", false
	}
}

func repositoryFromSection(reponame string, flavor Flavor, s *ini.Section) (*Repository, error) {
	repo := &Repository{
		Name:                 reponame,
		Flavor:               flavor,
		BaseURL:              s.Values["baseurl"],
		AllowMissingPackages: parseBool(s.Values["allow_missing_packages"]),
		Proxy:                s.Values["proxy"],
		SSLClientCert:        s.Values["sslclientcert"],
		SSLClientKey:         s.Values["sslclientkey"],
		SSLCACert:            s.Values["sslcacert"],
		Tags:                 splitWhitespace(s.Values["tags"]),
	}
	if v, ok := s.Values["rate_limit_per_sec"]; ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing rate_limit_per_sec %q", v)
		}
		repo.RateLimitPerSec = rate
	}
	if repo.BaseURL == "" {
		return nil, errors.New("missing baseurl")
	}
	switch flavor {
	case FlavorRPM:
		repo.Treeinfo = s.Values["treeinfo"]
		if repo.Treeinfo == "" {
			repo.Treeinfo = defaultTreeinfo
		}
	case FlavorDeb:
		repo.Suites = splitWhitespace(s.Values["suites"])
		repo.Components = splitWhitespace(s.Values["components"])
		repo.BinaryArchs = splitWhitespace(s.Values["binary_archs"])
		if len(repo.Suites) == 0 {
			return nil, errors.New("missing suites")
		}
	}
	return repo, nil
}

func splitWhitespace(s string) []string {
	return strings.Fields(s)
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

// Select filters repos by --repo (exact reponame) or --tags (comma-separated,
// "!" prefix negates; at least one non-negated tag must match). repoFlag and
// tagsFlag are mutually exclusive (§6); passing both is a ConfigError.
func Select(repos []*Repository, repoFlag, tagsFlag string) ([]*Repository, error) {
	if repoFlag != "" && tagsFlag != "" {
		return nil, &ConfigError{Reason: "--repo and --tags are mutually exclusive"}
	}
	if repoFlag != "" {
		for _, r := range repos {
			if r.Name == repoFlag {
				return []*Repository{r}, nil
			}
		}
		return nil, errors.Errorf("unknown repository %q", repoFlag)
	}
	if tagsFlag == "" {
		return repos, nil
	}
	var positive, negative []string
	for _, t := range strings.Split(tagsFlag, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.HasPrefix(t, "!") {
			negative = append(negative, t[1:])
		} else {
			positive = append(positive, t)
		}
	}
	var out []*Repository
	for _, r := range repos {
		if hasAny(r.Tags, negative) {
			continue
		}
		if len(positive) > 0 && !hasAny(r.Tags, positive) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func hasAny(tags, want []string) bool {
	for _, t := range tags {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}
