//go:build !windows

package fsutil

import (
	"fmt"
	"syscall"
)

// GetDiskUsage returns usage of the filesystem holding path
func GetDiskUsage(path string) (*DiskUsage, error) {
	checkPath, err := existingPath(path)
	if err != nil {
		return nil, err
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(checkPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to get filesystem stats: %w", err)
	}

	bsize := uint64(stat.Bsize) // #nosec G115 - block size is never negative
	return newDiskUsage(stat.Blocks*bsize, stat.Bavail*bsize), nil
}
