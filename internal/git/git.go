// Package git reports workspace state before a run hands files to workers.
package git

import (
	"os/exec"
	"strings"
)

// Status represents the git workspace status.
type Status struct {
	Clean bool
	Files []string
}

// GetStatus returns the git workspace status for the given directory.
// If dir is empty, uses the current working directory.
func GetStatus(dir string) (*Status, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	if dir != "" {
		cmd.Dir = dir
	}

	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Porcelain format: XY filename. Keep odd lines whole rather than
		// silently dropping them.
		if len(line) > 3 {
			files = append(files, line[3:])
		} else {
			files = append(files, strings.TrimSpace(line))
		}
	}

	return &Status{
		Clean: len(files) == 0,
		Files: files,
	}, nil
}

// IsClean reports whether the workspace has no uncommitted changes,
// counting staged, unstaged, and untracked files. If dir is empty, uses
// the current working directory.
func IsClean(dir string) (bool, error) {
	status, err := GetStatus(dir)
	if err != nil {
		return false, err
	}
	return status.Clean, nil
}
