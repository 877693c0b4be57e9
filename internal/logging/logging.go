// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package logging provides the process-wide logging sink for reposync.
//
// A Logger is created once per verb invocation and threaded through the
// job runner to every worker; ForRepo derives per-repository children that
// write to the same io.Writer. This replaces the shared mutable
// global logger pattern with an injected sink that has a documented
// init-then-use lifecycle: New is called once in main, and the returned
// Logger is passed down from there.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger is the sink every reposync component logs through.
type Logger struct {
	*log.Logger
}

// New creates a Logger writing to w with the given reponame-aware prefix.
func New(w io.Writer, prefix string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{Logger: log.New(w, prefix, log.LstdFlags)}
}

// Default returns a Logger writing to os.Stderr with no prefix, for use by
// verbs that have not been handed an explicit sink (e.g. early flag
// parsing errors).
func Default() *Logger {
	return New(os.Stderr, "")
}

// ForRepo returns a child Logger whose every line is tagged with reponame,
// so interleaved worker output from the job runner (§5: parallel OS-level
// workers, each processing one repository) stays attributable.
func (l *Logger) ForRepo(reponame string) *Logger {
	return New(l.Writer(), reponame+": ")
}

// Writer exposes the underlying io.Writer so ForRepo can share it.
func (l *Logger) Writer() io.Writer {
	return l.Logger.Writer()
}
