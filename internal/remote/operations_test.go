package remote

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

func testStages(user string) Stages {
	return Stages{
		Target: interfaces.Target{ID: "web-1", Address: "10.0.0.1", User: user, AppDir: "/opt/shop"},
		Application: interfaces.Application{
			Name:    "shop",
			Command: "gunicorn -b 0.0.0.0:5000 app:app",
			Env:     map[string]string{"FLASK_ENV": "production", "GREETING": `say "hi"`},
		}.WithDefaults(),
	}
}

func opNames(s interfaces.Stage) []string {
	names := make([]string, len(s.Operations))
	for i, op := range s.Operations {
		names[i] = op.Name
	}
	return names
}

func TestStages_Upload(t *testing.T) {
	art := &interfaces.Artifact{Fingerprint: "sha256:abc", BundlePath: "/tmp/work/abc/bundle.tar.gz"}
	stage := testStages("deploy").Upload(art)

	assert.Equal(t, interfaces.StageUpload, stage.Name)
	assert.Equal(t, []string{OpEnsureDirs, OpUploadBundle}, opNames(stage))
	assert.Equal(t, "mkdir -p /opt/shop/releases", stage.Operations[0].Command)

	upload := stage.Operations[1]
	assert.Equal(t, art.BundlePath, upload.Input)
	assert.Contains(t, upload.Command, `"$(cat /opt/shop/releases/abc/.fingerprint 2>/dev/null)" = sha256:abc`)
	assert.Contains(t, upload.Command, "tar -xzf - -C /opt/shop/releases/abc.partial")
	assert.Contains(t, upload.Command, "mv /opt/shop/releases/abc.partial /opt/shop/releases/abc")
}

func TestStages_Install(t *testing.T) {
	stage := testStages("deploy").Install("abc")

	assert.Equal(t, interfaces.StageInstall, stage.Name)
	assert.Equal(t, []string{OpEnsureVirtualenv, OpInstallRequirements}, opNames(stage))
	assert.Contains(t, stage.Operations[0].Command, "test -x /opt/shop/releases/abc/.venv/bin/python || python3 -m venv /opt/shop/releases/abc/.venv")
	assert.Contains(t, stage.Operations[1].Command,
		"/opt/shop/releases/abc/.venv/bin/pip install --disable-pip-version-check -q -r /opt/shop/releases/abc/requirements.txt")
}

func TestStages_Start(t *testing.T) {
	stage := testStages("deploy").Start("abc")

	assert.Equal(t, interfaces.StageStart, stage.Name)
	assert.Equal(t, []string{OpWriteUnit, OpActivateRelease, OpRestartService}, opNames(stage))
	assert.Contains(t, stage.Operations[0].Command, "sudo -n cmp -s")
	assert.Contains(t, stage.Operations[0].Command, "/etc/systemd/system/shop.service")
	assert.Contains(t, stage.Operations[0].Command, "sudo -n systemctl daemon-reload")
	assert.Equal(t, "ln -sfn releases/abc /opt/shop/current.next && mv -Tf /opt/shop/current.next /opt/shop/current",
		stage.Operations[1].Command)
	assert.Equal(t, "sudo -n systemctl enable -q shop && sudo -n systemctl restart shop", stage.Operations[2].Command)

	root := testStages("root").Start("abc")
	assert.Equal(t, "systemctl enable -q shop && systemctl restart shop", root.Operations[2].Command)
}

func TestStages_Unit(t *testing.T) {
	unit := testStages("deploy").Unit()

	lines := strings.Split(strings.TrimSpace(unit), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "[Unit]", lines[0])
	assert.Contains(t, unit, "User=deploy\n")
	assert.Contains(t, unit, "WorkingDirectory=/opt/shop/current\n")
	assert.Contains(t, unit, "Environment=PATH=/opt/shop/current/.venv/bin:")
	assert.Contains(t, unit, "ExecStart=/usr/bin/env gunicorn -b 0.0.0.0:5000 app:app\n")
	assert.Contains(t, unit, "Restart=on-failure\n")

	// Environment entries are sorted and quoted
	flask := strings.Index(unit, `Environment="FLASK_ENV=production"`)
	greeting := strings.Index(unit, `Environment="GREETING=say \"hi\""`)
	require.NotEqual(t, -1, flask)
	require.NotEqual(t, -1, greeting)
	assert.Less(t, flask, greeting)
}

func TestQuote(t *testing.T) {
	tests := map[string]string{
		"":            "''",
		"/opt/app":    "/opt/app",
		"sha256:abc":  "sha256:abc",
		"with space":  "'with space'",
		"it's":        `'it'\''s'`,
		"$(rm -rf /)": "'$(rm -rf /)'",
		"line\nbreak": "'line\nbreak'",
	}
	for in, want := range tests {
		assert.Equal(t, want, Quote(in), in)
	}
}
