// Package goroutine keeps background goroutines from taking the process down.
package goroutine

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// stackBufferSize bounds the stack trace logged for a recovered panic
const stackBufferSize = 8 << 10

// Recover logs a panic in the calling goroutine and swallows it. It must be
// deferred directly. With a nil logger the panic goes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}
	buf := make([]byte, stackBufferSize)
	stack := string(buf[:runtime.Stack(buf, false)])

	if logger == nil {
		fmt.Fprintf(os.Stderr, "panic in goroutine %s: %v\n%s\n", name, r, stack)
		return
	}
	logger.Errorw("Goroutine panic recovered", "goroutine", name, "panic", r, "stack", stack)
}

// Go runs fn in a new goroutine tracked by wg, recovering any panic
func Go(wg *sync.WaitGroup, name string, logger *zap.SugaredLogger, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer Recover(name, logger)
		fn()
	}()
}
