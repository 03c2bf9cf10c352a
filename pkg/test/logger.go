// SPDX-License-Identifier: AGPL-3.0-only

package test

import (
	"strings"
	"testing"

	"github.com/go-kit/log"
)

type testingWriter struct {
	t testing.TB
}

func (w testingWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// NewTestingLogger returns a logfmt logger that writes through t.Log, so
// output only shows up for failing or verbose tests.
func NewTestingLogger(t testing.TB) log.Logger {
	return log.NewSyncLogger(log.NewLogfmtLogger(testingWriter{t: t}))
}
