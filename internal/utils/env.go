package utils

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// SafeEnv returns the environment variable value for key, or fallback if empty.
func SafeEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// LoadDotEnv copies KEY=VALUE pairs from the given files (".env" when none are
// named) into the process environment. Variables that are already set win and
// missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var present []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		present = append(present, p)
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}
