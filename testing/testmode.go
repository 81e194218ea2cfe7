// Package testing switches the process into test mode when blank-imported
// from a _test.go file.
package testing

import "os"

var defaults = map[string]string{
	"INTERNALSITE_TEST_MODE": "1",
	"CSRF_SECRET":            "test-secret",
	"METRICS_ENABLED":        "false",
}

func init() {
	for key, value := range defaults {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
}
