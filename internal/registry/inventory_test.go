package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

func writeInventory(t *testing.T, name, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))
	return file
}

func TestLoadInventory_YAML(t *testing.T) {
	inv, err := LoadInventory("testdata/inventory.yaml")
	require.NoError(t, err)

	require.Len(t, inv.Targets, 3)
	web1 := inv.Targets[0]
	assert.Equal(t, "deploy", web1.User)
	assert.Equal(t, "file:~/.ssh/deploy_ed25519", web1.AuthRef)
	assert.Equal(t, "/opt/app", web1.AppDir)
	require.NotNil(t, web1.Health)
	assert.Equal(t, 2*time.Second, web1.Health.Interval)
	assert.Equal(t, 30*time.Second, web1.Health.Timeout)

	assert.Equal(t, "ubuntu", inv.Targets[1].User)
	assert.Nil(t, inv.Targets[1].Health)
	assert.Equal(t, "/srv/worker", inv.Targets[2].AppDir)

	shop, ok := inv.Application("shop")
	require.True(t, ok)
	assert.Equal(t, "shop", shop.Service)
	assert.Equal(t, "gunicorn app:app", shop.Command)
	assert.Equal(t, interfaces.DefaultRequirements, shop.Requirements)

	assert.Equal(t, []string{"jobs", "shop"}, inv.ApplicationNames())
}

func TestLoadInventory_TOML(t *testing.T) {
	inv, err := LoadInventory("testdata/inventory.toml")
	require.NoError(t, err)

	require.Len(t, inv.Targets, 1)
	assert.Equal(t, "env:DEPLOY_KEY", inv.Targets[0].AuthRef)
	assert.Equal(t, "web", inv.Targets[0].Labels["role"])
	require.NotNil(t, inv.Targets[0].Health)
	assert.Equal(t, 15*time.Second, inv.Targets[0].Health.Timeout)

	app, ok := inv.Application("shop")
	require.True(t, ok)
	assert.Equal(t, "all", app.Targets)
}

func TestLoadInventory_RejectsUnknownFields(t *testing.T) {
	yamlFile := writeInventory(t, "inv.yaml", "targets:\n  - id: a\n    adress: 10.0.0.1\n    app_dir: /opt/app\n")
	_, err := LoadInventory(yamlFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adress")

	tomlFile := writeInventory(t, "inv.toml", "[[targets]]\nid = \"a\"\naddress = \"10.0.0.1\"\napp_dir = \"/opt/app\"\nport = 22\n")
	_, err = LoadInventory(tomlFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestLoadInventory_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "duplicate target",
			content: "targets:\n  - {id: a, address: h1, app_dir: /opt/app}\n  - {id: a, address: h2, app_dir: /opt/app}\n",
			errMsg:  "duplicate target id",
		},
		{
			name:    "relative app dir",
			content: "targets:\n  - {id: a, address: h1, app_dir: app}\n",
			errMsg:  "absolute path",
		},
		{
			name:    "missing address",
			content: "targets:\n  - {id: a, app_dir: /opt/app}\n",
			errMsg:  "address is required",
		},
		{
			name:    "inverted health range",
			content: "targets:\n  - {id: a, address: h1, app_dir: /opt/app, health: {url: 'http://h1/', expect_min: 300, expect_max: 200}}\n",
			errMsg:  "expect_min",
		},
		{
			name:    "bad application selector",
			content: "applications:\n  - {name: shop, repository: acme/shop, targets: 'role='}\n",
			errMsg:  "application \"shop\"",
		},
		{
			name:    "application without repository",
			content: "applications:\n  - {name: shop}\n",
			errMsg:  "repository is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadInventory(writeInventory(t, "inv.yml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadInventory_UnsupportedFormat(t *testing.T) {
	_, err := LoadInventory(writeInventory(t, "inv.json", "{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported inventory format")
}

func TestLoadInventory_EmptyFile(t *testing.T) {
	inv, err := LoadInventory(writeInventory(t, "inv.yaml", ""))
	require.NoError(t, err)
	assert.Empty(t, inv.Targets)
}

func TestInventory_ApplicationForRepository(t *testing.T) {
	inv, err := LoadInventory("testdata/inventory.yaml")
	require.NoError(t, err)

	for _, repo := range []string{"acme/shop", "ACME/Shop", "https://github.com/acme/shop", "git@github.com:acme/shop.git"} {
		app, ok := inv.ApplicationForRepository(repo)
		require.True(t, ok, repo)
		assert.Equal(t, "shop", app.Name)
	}

	app, ok := inv.ApplicationForRepository("acme/jobs")
	require.True(t, ok)
	assert.Equal(t, "jobs", app.Name)

	_, ok = inv.ApplicationForRepository("acme/unknown")
	assert.False(t, ok)
}
