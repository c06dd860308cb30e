package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// Credential reference schemes
const (
	SchemeFile     = "file"
	SchemeEnv      = "env"
	SchemeSecrets  = "aws-sm"
	SchemeAgent    = "agent"
	envAgentSocket = "SSH_AUTH_SOCK"
)

// SecretSource returns the PEM-encoded private key stored under name
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// AuthResolver turns a target's AuthRef into SSH auth methods
type AuthResolver struct {
	secrets SecretSource
}

// NewAuthResolver creates a resolver; secrets may be nil when no aws-sm: refs are used
func NewAuthResolver(secrets SecretSource) *AuthResolver {
	return &AuthResolver{secrets: secrets}
}

// Resolve parses ref as "<scheme>:<value>". The returned cleanup releases
// resources such as an agent connection.
func (r *AuthResolver) Resolve(ctx context.Context, ref string) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}
	scheme, value, ok := strings.Cut(ref, ":")
	if !ok {
		return nil, noop, authError("credential reference %q has no scheme", ref)
	}

	switch scheme {
	case SchemeFile:
		pem, err := os.ReadFile(expandHome(value)) //nolint:gosec // operator-supplied key path
		if err != nil {
			return nil, noop, interfaces.WrapError(interfaces.KindAuthentication, err, "read key file %s", value)
		}
		m, err := keyMethod(pem)
		return m, noop, err

	case SchemeEnv:
		pem := os.Getenv(value)
		if pem == "" {
			return nil, noop, authError("environment variable %s is empty", value)
		}
		m, err := keyMethod([]byte(pem))
		return m, noop, err

	case SchemeSecrets:
		if r.secrets == nil {
			return nil, noop, authError("no secrets source configured for %q", ref)
		}
		pem, err := r.secrets.GetSecret(ctx, value)
		if err != nil {
			return nil, noop, interfaces.WrapError(interfaces.KindAuthentication, err, "fetch secret %s", value)
		}
		m, err := keyMethod([]byte(pem))
		return m, noop, err

	case SchemeAgent:
		socket := value
		if socket == "" {
			socket = os.Getenv(envAgentSocket)
		}
		if socket == "" {
			return nil, noop, authError("%s is not set", envAgentSocket)
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", socket)
		if err != nil {
			return nil, noop, interfaces.WrapError(interfaces.KindAuthentication, err, "connect to ssh agent")
		}
		client := agent.NewClient(conn)
		return []ssh.AuthMethod{ssh.PublicKeysCallback(client.Signers)}, func() { _ = conn.Close() }, nil
	}

	return nil, noop, authError("unsupported credential scheme %q", scheme)
}

func keyMethod(pem []byte) ([]ssh.AuthMethod, error) {
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, interfaces.WrapError(interfaces.KindAuthentication, err, "parse private key")
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func authError(format string, args ...interface{}) error {
	return interfaces.NewError(interfaces.KindAuthentication, format, args...)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// Scheme returns the scheme of a credential reference, for validation
func Scheme(ref string) string {
	scheme, _, _ := strings.Cut(ref, ":")
	return scheme
}

// ValidateRef checks that ref uses a known scheme
func ValidateRef(ref string) error {
	switch Scheme(ref) {
	case SchemeFile, SchemeEnv, SchemeSecrets, SchemeAgent:
		return nil
	}
	return fmt.Errorf("credential reference %q must start with file:, env:, aws-sm: or agent:", ref)
}
