package app

import (
	"os"
	"sync"
)

const testModeEnv = "AEGIS_TEST_MODE"

var (
	testModeOnce sync.Once
	testMode     bool
)

// InTestMode reports whether the process runs under `go test`. The
// entrypoints consult it to skip connecting to real backends.
func InTestMode() bool {
	testModeOnce.Do(func() {
		testMode = os.Getenv(testModeEnv) == "1"
	})
	return testMode
}
