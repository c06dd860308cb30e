package remote

import (
	"fmt"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/lattiam/launchpad/pkg/logging"
)

// HostKeyCallback verifies host keys against a known_hosts file, or accepts
// any key when insecure is set.
func HostKeyCallback(knownHostsFile string, insecure bool) (ssh.HostKeyCallback, error) {
	if insecure {
		logging.Remote.Warn("Host key verification is disabled")
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit operator opt-in
	}
	cb, err := knownhosts.New(expandHome(knownHostsFile))
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}
