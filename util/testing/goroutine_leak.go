// Package testing holds helpers shared by package tests.
package testing

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// CheckGoroutineCleanup verifies no goroutine leaks after test completion
// Usage: defer CheckGoroutineCleanup(t)() once the fixtures that own
// long-lived goroutines have been created.
func CheckGoroutineCleanup(t *testing.T) func() {
	t.Helper()
	before := runtime.NumGoroutine()

	return func() {
		ok := assert.Eventually(t, func() bool {
			return runtime.NumGoroutine() <= before
		}, 5*time.Second, 50*time.Millisecond,
			"Goroutine leak detected: before=%d", before)
		if !ok {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Logf("Goroutine stack traces (%d goroutines):\n%s", runtime.NumGoroutine(), buf[:n])
		}
	}
}
