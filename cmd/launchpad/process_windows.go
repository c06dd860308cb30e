//go:build windows

package main

import (
	"os/exec"
)

// setupServerProcess configures process attributes for the server on Windows systems
func setupServerProcess(_ *exec.Cmd) {
	// Windows handles process groups differently
}
