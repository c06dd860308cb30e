// Package fsutil reports on the directories launchpad writes to
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirExists reports whether path is an existing directory
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsWritable reports whether a file can be created in the directory path
func IsWritable(path string) bool {
	if !DirExists(path) {
		return false
	}
	f, err := os.CreateTemp(path, ".launchpad-write-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// DiskUsage describes the filesystem holding a path
type DiskUsage struct {
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Level classifies the usage against warning and critical percentages
func (u *DiskUsage) Level(warning, critical float64) string {
	switch {
	case u.UsedPercent >= critical:
		return "critical"
	case u.UsedPercent >= warning:
		return "warning"
	default:
		return "healthy"
	}
}

func newDiskUsage(total, free uint64) *DiskUsage {
	u := &DiskUsage{TotalBytes: total, FreeBytes: free}
	if free <= total {
		u.UsedBytes = total - free
	}
	if total > 0 {
		u.UsedPercent = float64(u.UsedBytes) / float64(total) * 100
	}
	return u
}

// existingPath resolves symlinks and falls back to the parent directory for
// paths that have not been created yet.
func existingPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	if _, err := os.Stat(resolved); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(resolved)
	if _, err := os.Stat(parent); err != nil {
		return "", fmt.Errorf("path and parent directory do not exist: %s", path)
	}
	return parent, nil
}
