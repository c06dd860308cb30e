//go:build windows

package fsutil

import (
	"fmt"
	"syscall"
	"unsafe"
)

// GetDiskUsage returns usage of the volume holding path
func GetDiskUsage(path string) (*DiskUsage, error) {
	checkPath, err := existingPath(path)
	if err != nil {
		return nil, err
	}

	pathPtr, err := syscall.UTF16PtrFromString(checkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to convert path to UTF16: %w", err)
	}

	var freeAvailable, total, totalFree uint64
	proc := syscall.NewLazyDLL("kernel32.dll").NewProc("GetDiskFreeSpaceExW")
	ret, _, callErr := proc.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeAvailable)),
		uintptr(unsafe.Pointer(&total)),
		uintptr(unsafe.Pointer(&totalFree)),
	)
	if ret == 0 {
		return nil, fmt.Errorf("GetDiskFreeSpaceEx failed: %w", callErr)
	}
	return newDiskUsage(total, freeAvailable), nil
}
