// Package testutil holds helpers shared by package tests.
package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for use in a single test. Output goes to
// stdout so it interleaves with the runner's output, and is redirected
// to stderr once the test finishes in case a stray goroutine still
// holds the logger.
func TestLogger(tb testing.TB) *log.Logger {
	logger := log.New(os.Stdout, "[groupchat-test] ", log.LstdFlags)
	tb.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
