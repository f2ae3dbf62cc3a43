package goroutine

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAssertNoLeaks_WorkersFinish(t *testing.T) {
	AssertNoLeaks(t, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		Go(&wg, "worker", zap.NewNop().Sugar(), func() {
			time.Sleep(20 * time.Millisecond)
		})
	}
	wg.Wait()
}

func TestWaitForCount(t *testing.T) {
	baseline := runtime.NumGoroutine()

	release := make(chan struct{})
	go func() { <-release }()

	assert.False(t, WaitForCount(baseline, 50*time.Millisecond, 10*time.Millisecond))

	close(release)
	assert.True(t, WaitForCount(baseline, 2*time.Second, 10*time.Millisecond))
}
