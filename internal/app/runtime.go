package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// TestModeEnv makes binaries return before touching Postgres or Redis.
const TestModeEnv = "TESOURARIA_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(TestModeEnv) == "1")
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}
