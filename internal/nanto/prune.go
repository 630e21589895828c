package nanto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// prunePaths removes the files named in a pruning list from the source tree.
// Paths that cannot be removed, including ones already absent, are collected
// and reported together so a partial prune is never mistaken for a clean one.
func prunePaths(tree, listPath string) error {
	data, err := os.ReadFile(listPath)
	if err != nil {
		return fmt.Errorf("could not read pruning list: %w", err)
	}
	var unremovable []string
	for _, line := range splitLines(string(data)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := os.Remove(filepath.Join(tree, filepath.FromSlash(line))); err != nil {
			unremovable = append(unremovable, line)
		}
	}
	debugf("Pruned list %s, %d entries unremovable\n", listPath, len(unremovable))
	if len(unremovable) > 0 {
		return &UnremovablePathError{Paths: unremovable}
	}
	return nil
}
