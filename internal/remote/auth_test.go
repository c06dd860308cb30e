package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}

func TestAuthResolver_Resolve(t *testing.T) {
	_, pemKey := newKeyPair(t)
	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, pemKey, 0o600))
	t.Setenv("LAUNCHPAD_TEST_KEY", string(pemKey))
	t.Setenv(envAgentSocket, "")

	resolver := NewAuthResolver(staticSecrets{"deploy/key": string(pemKey), "deploy/garbage": "not a key"})
	ctx := context.Background()

	ok := []string{"file:" + keyFile, "env:LAUNCHPAD_TEST_KEY", "aws-sm:deploy/key"}
	for _, ref := range ok {
		t.Run(ref, func(t *testing.T) {
			methods, cleanup, err := resolver.Resolve(ctx, ref)
			defer cleanup()
			require.NoError(t, err)
			assert.Len(t, methods, 1)
		})
	}

	bad := []string{
		"no-scheme",
		"file:" + filepath.Join(t.TempDir(), "missing"),
		"env:LAUNCHPAD_TEST_UNSET",
		"aws-sm:deploy/missing",
		"aws-sm:deploy/garbage",
		"agent:",
		"vault:secret/key",
	}
	for _, ref := range bad {
		t.Run(ref, func(t *testing.T) {
			_, cleanup, err := resolver.Resolve(ctx, ref)
			defer cleanup()
			require.Error(t, err)
			assert.True(t, interfaces.IsKind(err, interfaces.KindAuthentication), err)
		})
	}
}

func TestAuthResolver_SecretsNotConfigured(t *testing.T) {
	_, cleanup, err := NewAuthResolver(nil).Resolve(context.Background(), "aws-sm:deploy/key")
	defer cleanup()
	assert.True(t, interfaces.IsKind(err, interfaces.KindAuthentication))
	assert.False(t, errors.Is(err, ErrSecretNotFound))
}

func TestValidateRef(t *testing.T) {
	for _, ref := range []string{"file:~/.ssh/id", "env:KEY", "aws-sm:x", "agent:"} {
		assert.NoError(t, ValidateRef(ref), ref)
	}
	assert.Error(t, ValidateRef("password:hunter2"))
	assert.Error(t, ValidateRef(""))
}
