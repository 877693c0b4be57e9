// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Command reposync mirrors RPM and Debian package repositories to local
// disk, and manages point-in-time snapshots of the mirrored tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	yaml "gopkg.in/yaml.v3"

	"github.com/google/reposync/internal/config"
	"github.com/google/reposync/internal/fetcher"
	"github.com/google/reposync/internal/httpx"
	"github.com/google/reposync/internal/logging"
	"github.com/google/reposync/internal/migrate"
	"github.com/google/reposync/internal/mirror"
	"github.com/google/reposync/internal/runner"
	"github.com/google/reposync/internal/snapshot"
	"github.com/google/reposync/internal/validate"
)

var rootCmd = &cobra.Command{
	Use:   "reposync",
	Short: "Mirrors and snapshots RPM and Debian package repositories",
}

// loadSelection reads the configuration file and narrows it to the
// repositories --repo/--tags select; cfg.Destination anchors every path
// the selected verb touches.
func loadSelection() (*config.Config, []*config.Repository, error) {
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading configuration")
	}
	repos, err := config.Select(cfg.Repositories, *repoFlag, *tagsFlag)
	if err != nil {
		return nil, nil, err
	}
	return cfg, repos, nil
}

// buildEngine constructs the mirror.Engine for repo, wiring its configured
// transport credentials and rate limit into an httpx client and a
// per-repository Fetcher rooted at a scratch directory under destination.
func buildEngine(cfg *config.Config, repo *config.Repository, sink *logging.Logger) (*mirror.Engine, error) {
	client, err := httpx.NewClient(httpx.ClientOptions{
		ProxyURL: repo.Proxy,
		TLS: httpx.TLSConfig{
			ClientCertPath: repo.SSLClientCert,
			ClientKeyPath:  repo.SSLClientKey,
			CABundlePath:   repo.SSLCACert,
		},
		BasicAuthUser:     repo.BasicAuthUser,
		BasicAuthPassword: repo.BasicAuthPass,
		UserAgent:         "reposync/1.0",
	})
	if err != nil {
		return nil, errors.Wrapf(err, "building HTTP client for %s", repo.Name)
	}
	if repo.RateLimitPerSec > 0 {
		client = &httpx.RateLimitedClient{BasicClient: client, Limiter: rate.NewLimiter(rate.Limit(repo.RateLimitPerSec), 1)}
	}
	scratch := filepath.Join(cfg.Destination, ".scratch", repo.Name)
	f, err := fetcher.New(client, scratch, sink)
	if err != nil {
		return nil, errors.Wrapf(err, "building fetcher for %s", repo.Name)
	}
	return mirror.New(repo, f, cfg.Destination, sink), nil
}

// runWithProgress drives the job runner for one verb, showing a progress
// bar over the selected repositories. The bar advances once per job after
// runner.Run has returned, not while jobs are still running.
func runWithProgress(ctx context.Context, jobs []runner.Job, concurrency int, log *logging.Logger) bool {
	bar := pb.New(len(jobs))
	bar.Output = os.Stderr
	bar.ShowTimeLeft = true
	bar.Start()
	defer bar.Finish()
	results, ok := runner.Run(ctx, jobs, concurrency, log)
	for _, r := range results {
		bar.Increment()
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.Reponame, r.Err)
		}
	}
	return ok
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the selected repositories from upstream",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, repos, err := loadSelection()
		if err != nil {
			log.Fatal(err)
		}
		mainLog := logging.New(os.Stderr, "")
		var jobs []runner.Job
		for _, repo := range repos {
			e, err := buildEngine(cfg, repo, mainLog)
			if err != nil {
				log.Fatal(err)
			}
			jobs = append(jobs, runner.Job{Reponame: repo.Name, Run: func(ctx context.Context) error {
				if err := e.Sync(ctx); err != nil {
					return &runner.DomainError{Err: err}
				}
				return nil
			}})
		}
		if !runWithProgress(cmd.Context(), jobs, cfg.Downloaders, mainLog) {
			os.Exit(1)
		}
	},
}

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Materialize a new snapshot of each selected repository's current sync tree",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, repos, err := loadSelection()
		if err != nil {
			log.Fatal(err)
		}
		mainLog := logging.New(os.Stderr, "")
		timestamp := snapshot.Timestamp(time.Now())
		var jobs []runner.Job
		for _, repo := range repos {
			e, err := buildEngine(cfg, repo, mainLog)
			if err != nil {
				log.Fatal(err)
			}
			jobs = append(jobs, runner.Job{Reponame: repo.Name, Run: func(ctx context.Context) error {
				metadataFiles, err := e.MetadataFiles()
				if err != nil {
					return &runner.DomainError{Err: err}
				}
				entries, err := e.PackageEntries()
				if err != nil {
					return &runner.DomainError{Err: err}
				}
				store := snapshot.New(cfg.Destination, repo.Name, mainLog)
				if err := store.Snap(timestamp, metadataFiles, entries); err != nil {
					return &runner.DomainError{Err: err}
				}
				return nil
			}})
		}
		if !runWithProgress(cmd.Context(), jobs, 1, mainLog) {
			os.Exit(1)
		}
	},
}

var snapCleanupCmd = &cobra.Command{
	Use:   "snap_cleanup",
	Short: "Remove snapshots no alias references",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, repos, err := loadSelection()
		if err != nil {
			log.Fatal(err)
		}
		mainLog := logging.New(os.Stderr, "")
		var jobs []runner.Job
		for _, repo := range repos {
			jobs = append(jobs, runner.Job{Reponame: repo.Name, Run: func(ctx context.Context) error {
				store := snapshot.New(cfg.Destination, repo.Name, mainLog)
				removed, err := store.Cleanup()
				if err != nil {
					return &runner.DomainError{Err: err}
				}
				for _, ts := range removed {
					fmt.Fprintf(os.Stderr, "%s: removed %s\n", repo.Name, ts)
				}
				return nil
			}})
		}
		if !runWithProgress(cmd.Context(), jobs, 1, mainLog) {
			os.Exit(1)
		}
	},
}

// snapListing is one repository's snap_list output (§4.6).
type snapListing struct {
	Reponame   string          `yaml:"reponame"`
	Timestamps []string        `yaml:"timestamps"`
	Latest     string          `yaml:"latest,omitempty"`
	Names      []snapshot.Name `yaml:"names,omitempty"`
}

var snapListCmd = &cobra.Command{
	Use:   "snap_list",
	Short: "List each selected repository's snapshots, names, and latest",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, repos, err := loadSelection()
		if err != nil {
			log.Fatal(err)
		}
		var listings []snapListing
		for _, repo := range repos {
			store := snapshot.New(cfg.Destination, repo.Name, nil)
			timestamps, err := store.Timestamps()
			if err != nil {
				log.Fatal(err)
			}
			latest, _, err := store.Latest()
			if err != nil {
				log.Fatal(err)
			}
			names, err := store.Names()
			if err != nil {
				log.Fatal(err)
			}
			listings = append(listings, snapListing{Reponame: repo.Name, Timestamps: timestamps, Latest: latest, Names: names})
		}
		printListings(listings)
	},
}

func printListings(listings []snapListing) {
	if *formatFlag == "yaml" {
		out, err := yaml.Marshal(listings)
		if err != nil {
			log.Fatal(err)
		}
		os.Stdout.Write(out)
		return
	}
	for _, l := range listings {
		fmt.Printf("%s:\n", l.Reponame)
		fmt.Printf("  latest: %s\n", l.Latest)
		fmt.Printf("  timestamps: %v\n", l.Timestamps)
		for _, n := range l.Names {
			fmt.Printf("  named/%s -> %s (dangling=%v)\n", n.Name, n.Target, n.Dangling)
		}
	}
}

var snapNameCmd = &cobra.Command{
	Use:   "snap_name",
	Short: "Create or replace a named alias for a snapshot",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, repos, err := loadSelection()
		if err != nil {
			log.Fatal(err)
		}
		if *timestampFlag == "" || *nameFlag == "" {
			log.Fatal(errors.New("snap_name requires --timestamp and --name"))
		}
		for _, repo := range repos {
			store := snapshot.New(cfg.Destination, repo.Name, nil)
			if err := store.NameSnapshot(*timestampFlag, *nameFlag); err != nil {
				log.Fatal(err)
			}
		}
	},
}

var snapUnnameCmd = &cobra.Command{
	Use:   "snap_unname",
	Short: "Remove a named alias",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, repos, err := loadSelection()
		if err != nil {
			log.Fatal(err)
		}
		if *nameFlag == "" {
			log.Fatal(errors.New("snap_unname requires --name"))
		}
		for _, repo := range repos {
			store := snapshot.New(cfg.Destination, repo.Name, nil)
			if err := store.Unname(*nameFlag); err != nil {
				log.Fatal(err)
			}
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Verify every mirrored blob still hashes to its content-addressed name",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, repos, err := loadSelection()
		if err != nil {
			log.Fatal(err)
		}
		mainLog := logging.New(os.Stderr, "")
		var allFindings []validate.Finding
		var jobs []runner.Job
		for _, repo := range repos {
			e, err := buildEngine(cfg, repo, mainLog)
			if err != nil {
				log.Fatal(err)
			}
			jobs = append(jobs, runner.Job{Reponame: repo.Name, Run: func(ctx context.Context) error {
				findings, err := validate.Run(e, cfg.Destination, repo.Name)
				if err != nil {
					return &runner.DomainError{Err: err}
				}
				allFindings = append(allFindings, findings...)
				return nil
			}})
		}
		ok := runWithProgress(cmd.Context(), jobs, 1, mainLog)
		printFindings(allFindings)
		if !ok || len(allFindings) > 0 {
			os.Exit(1)
		}
	},
}

func printFindings(findings []validate.Finding) {
	if *formatFlag == "yaml" {
		out, err := yaml.Marshal(findings)
		if err != nil {
			log.Fatal(err)
		}
		os.Stdout.Write(out)
		return
	}
	for _, f := range findings {
		fmt.Printf("%s: %s: %s\n", f.Reponame, f.Path, f.Problem)
	}
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert a pre-content-addressed sync tree to the current layout",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, repos, err := loadSelection()
		if err != nil {
			log.Fatal(err)
		}
		mainLog := logging.New(os.Stderr, "")
		var jobs []runner.Job
		for _, repo := range repos {
			e, err := buildEngine(cfg, repo, mainLog)
			if err != nil {
				log.Fatal(err)
			}
			jobs = append(jobs, runner.Job{Reponame: repo.Name, Run: func(ctx context.Context) error {
				entries, err := e.PackageEntries()
				if err != nil {
					return &runner.DomainError{Err: err}
				}
				if err := migrate.Migrate(cfg.Destination, repo.Name, entries, mainLog); err != nil {
					return &runner.DomainError{Err: err}
				}
				return nil
			}})
		}
		if !runWithProgress(cmd.Context(), jobs, 1, mainLog) {
			os.Exit(1)
		}
	},
}

var (
	cfgPath       = flag.String("cfg", "/etc/reposync/reposync.ini", "path to the reposync configuration file")
	repoFlag      = flag.String("repo", "", "limit the action to this one repository")
	tagsFlag      = flag.String("tags", "", "limit the action to repositories matching these comma-separated tags (\"!\" negates)")
	timestampFlag = flag.String("timestamp", "", "snap_name: a 14-digit snapshot timestamp, or the name of an existing alias")
	nameFlag      = flag.String("name", "", "snap_name/snap_unname: the alias name")
	formatFlag    = flag.String("format", "text", "output format for snap_list/validate: text or yaml")
)

func init() {
	for _, c := range []*cobra.Command{syncCmd, snapCmd, snapCleanupCmd, snapListCmd, snapNameCmd, snapUnnameCmd, validateCmd, migrateCmd} {
		c.Flags().AddGoFlag(flag.Lookup("cfg"))
		c.Flags().AddGoFlag(flag.Lookup("repo"))
		c.Flags().AddGoFlag(flag.Lookup("tags"))
	}
	snapNameCmd.Flags().AddGoFlag(flag.Lookup("timestamp"))
	snapNameCmd.Flags().AddGoFlag(flag.Lookup("name"))
	snapUnnameCmd.Flags().AddGoFlag(flag.Lookup("name"))
	snapListCmd.Flags().AddGoFlag(flag.Lookup("format"))
	validateCmd.Flags().AddGoFlag(flag.Lookup("format"))

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(snapCmd)
	rootCmd.AddCommand(snapCleanupCmd)
	rootCmd.AddCommand(snapListCmd)
	rootCmd.AddCommand(snapNameCmd)
	rootCmd.AddCommand(snapUnnameCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	flag.Parse()
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
