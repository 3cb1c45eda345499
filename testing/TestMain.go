// Package testing switches the process into test mode when imported by a
// test binary.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("TREASURY_TEST_MODE", "1")
		if os.Getenv("SESSION_SECRET") == "" {
			_ = os.Setenv("SESSION_SECRET", "test-session-secret")
		}
		if os.Getenv("MAIL_RATE_PER_SECOND") == "" {
			_ = os.Setenv("MAIL_RATE_PER_SECOND", "1000")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be called from a package TestMain to force test mode before
// any flag parsing.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
