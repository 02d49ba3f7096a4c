package utils

import (
	"fmt"
	"os"
)

// CreateFolder creates every folder in paths, including parents.
func CreateFolder(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", p, err)
		}
	}
	return nil
}
