package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks records the goroutine count and, when the test finishes,
// fails it unless the count drops back to that baseline within timeout.
// Call it before the test starts any goroutine and before registering
// cleanups that stop them.
func AssertNoLeaks(tb testing.TB, timeout time.Duration) {
	tb.Helper()
	before := runtime.NumGoroutine()

	tb.Cleanup(func() {
		if WaitForCount(before, timeout, 50*time.Millisecond) {
			return
		}

		current := runtime.NumGoroutine()
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		tb.Errorf("goroutine leak: started with %d goroutines, ended with %d\n%s",
			before, current, buf[:n])
	})
}

// WaitForCount polls until at most target goroutines are running. It reports
// whether that happened before timeout.
func WaitForCount(target int, timeout, pollInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if runtime.NumGoroutine() <= target {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
