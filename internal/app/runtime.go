package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "INTERNALSITE_TEST_MODE"

var testMode atomic.Bool

func init() {
	RefreshTestMode()
}

// InTestMode reports whether binaries should skip connecting to backing
// services. Tests blank-import the testing package to switch it on.
func InTestMode() bool {
	return testMode.Load()
}

// RefreshTestMode re-reads INTERNALSITE_TEST_MODE.
func RefreshTestMode() {
	testMode.Store(os.Getenv(testModeEnv) == "1")
}
