// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

// DatabaseURL returns the Postgres URL for integration tests, skipping the test when none
// is configured. DATABASE_URL wins; otherwise TEST_DATABASE_URL from the nearest .env.test.
func DatabaseURL(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	if path := findUp(".env.test", 5); path != "" {
		env, err := godotenv.Read(path)
		if err != nil {
			t.Logf("failed to read %s: %v", path, err)
		} else if url := env["TEST_DATABASE_URL"]; url != "" {
			return url
		}
	}

	t.Skip("no test database configured, set DATABASE_URL or TEST_DATABASE_URL in .env.test")
	return ""
}

// findUp looks for name in the working directory and up to levels parents
func findUp(name string, levels int) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for range levels + 1 {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
