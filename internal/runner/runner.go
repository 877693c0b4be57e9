// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package runner implements the job runner (C7): a fixed-size worker pool
// draining a shared queue of per-repository jobs, with per-repository
// failure isolation and a process-level aggregate exit status.
package runner

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/google/reposync/internal/logging"
)

// DomainError marks an error that is recoverable at the job-runner level: it
// sets the job's status to failed and the runner moves on to the next job
// instead of aborting the worker.
type DomainError struct {
	Err error
}

func (e *DomainError) Error() string { return e.Err.Error() }
func (e *DomainError) Unwrap() error { return e.Err }

// Job is one unit of work: running a verb against one repository.
type Job struct {
	Reponame string
	Run      func(ctx context.Context) error
}

// Result records the outcome of one job.
type Result struct {
	Reponame string
	Err      error
}

// Run drains jobs with a worker pool of size concurrency (each worker
// receives from one shared buffered channel; there is no other
// cross-worker mutable state besides the results channel). A
// *DomainError returned by a job marks that job failed without aborting
// the worker; any other error terminates the worker that hit it, but not
// its siblings. Run returns every job's Result and a process-level
// success flag that is true iff every job succeeded.
func Run(ctx context.Context, jobs []Job, concurrency int, log *logging.Logger) ([]Result, bool) {
	if log == nil {
		log = logging.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	queue := make(chan Job, len(jobs))
	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	results := make(chan Result, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i := 0; i < concurrency; i++ {
		eg.Go(func() error {
			return worker(egCtx, queue, results, log)
		})
	}
	// Worker errors are swallowed into Results (DomainError) or logged
	// (unexpected); eg.Wait only reports I/O setup failures that never
	// reached a job, so every worker here always returns nil.
	_ = eg.Wait()
	close(results)

	out := make([]Result, 0, len(jobs))
	success := true
	for r := range results {
		out = append(out, r)
		if r.Err != nil {
			success = false
		}
	}
	return out, success
}

func worker(ctx context.Context, queue <-chan Job, results chan<- Result, log *logging.Logger) error {
	for job := range queue {
		err := job.Run(ctx)
		var domainErr *DomainError
		switch {
		case err == nil:
			results <- Result{Reponame: job.Reponame}
		case asDomainError(err, &domainErr):
			log.Printf("%s: %v", job.Reponame, domainErr.Err)
			results <- Result{Reponame: job.Reponame, Err: domainErr.Err}
		default:
			// Unexpected error: this worker stops, but its siblings keep
			// draining the shared queue.
			log.Printf("%s: unexpected error, worker exiting: %v", job.Reponame, err)
			results <- Result{Reponame: job.Reponame, Err: err}
			return nil
		}
	}
	return nil
}

func asDomainError(err error, target **DomainError) bool {
	de, ok := err.(*DomainError)
	if !ok {
		return false
	}
	*target = de
	return true
}
