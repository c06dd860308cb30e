// Package remote renders deployment stages to shell and runs them on targets over SSH
package remote

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/lattiam/launchpad/internal/interfaces"
)

// Names of the operations making up each stage
const (
	OpEnsureDirs          = "ensure_dirs"
	OpUploadBundle        = "upload_bundle"
	OpEnsureVirtualenv    = "ensure_virtualenv"
	OpInstallRequirements = "install_requirements"
	OpWriteUnit           = "write_unit"
	OpActivateRelease     = "activate_release"
	OpRestartService      = "restart_service"
)

// FingerprintFile records which artifact a release directory holds
const FingerprintFile = ".fingerprint"

// Layout is the on-target directory layout of an application
type Layout struct {
	AppDir string
}

// Releases is the directory holding one sub-directory per artifact
func (l Layout) Releases() string { return path.Join(l.AppDir, "releases") }

// Release is the directory of one artifact
func (l Layout) Release(releaseName string) string { return path.Join(l.Releases(), releaseName) }

// Current is the symlink to the active release
func (l Layout) Current() string { return path.Join(l.AppDir, "current") }

// UnitPath is where the systemd unit of service is written
func UnitPath(service string) string {
	return "/etc/systemd/system/" + service + ".service"
}

// Stages builds the declarative stage definitions for one target. Every
// operation converges on a desired state and is safe to run again.
type Stages struct {
	Target      interfaces.Target
	Application interfaces.Application
}

func (s Stages) layout() Layout { return Layout{AppDir: s.Target.AppDir} }

func (s Stages) sudo() string {
	if s.Target.User == "root" {
		return ""
	}
	return "sudo -n "
}

// Upload ships the bundle into releases/<fp>, skipping the transfer target-side
// when the release already holds this fingerprint.
func (s Stages) Upload(artifact *interfaces.Artifact) interfaces.Stage {
	l := s.layout()
	release := l.Release(artifact.ReleaseName())
	marker := path.Join(release, FingerprintFile)
	tmp := release + ".partial"

	upload := fmt.Sprintf(
		`if [ "$(cat %[1]s 2>/dev/null)" = %[2]s ]; then cat >/dev/null; else `+
			`rm -rf %[3]s && mkdir -p %[3]s && tar -xzf - -C %[3]s && printf '%%s\n' %[2]s > %[3]s/%[4]s && `+
			`rm -rf %[5]s && mv %[3]s %[5]s; fi`,
		Quote(marker), Quote(artifact.Fingerprint), Quote(tmp), FingerprintFile, Quote(release))

	return interfaces.Stage{
		Name: interfaces.StageUpload,
		Operations: []interfaces.Operation{
			{Name: OpEnsureDirs, Command: "mkdir -p " + Quote(l.Releases())},
			{Name: OpUploadBundle, Command: upload, Input: artifact.BundlePath},
		},
	}
}

// Install creates the release's virtualenv and installs its requirements
func (s Stages) Install(releaseName string) interfaces.Stage {
	release := s.layout().Release(releaseName)
	venv := path.Join(release, ".venv")
	requirements := path.Join(release, s.Application.Requirements)

	return interfaces.Stage{
		Name: interfaces.StageInstall,
		Operations: []interfaces.Operation{
			{
				Name: OpEnsureVirtualenv,
				Command: fmt.Sprintf("test -d %s || { echo 'release %s is missing' >&2; exit 1; }; test -x %s/bin/python || %s -m venv %s",
					Quote(release), releaseName, Quote(venv), Quote(s.Application.Python), Quote(venv)),
			},
			{
				Name: OpInstallRequirements,
				Command: fmt.Sprintf("if [ -f %[1]s ]; then %[2]s/bin/pip install --disable-pip-version-check -q -r %[1]s; fi",
					Quote(requirements), Quote(venv)),
			},
		},
	}
}

// Start points current at the release and (re)starts the supervised service
func (s Stages) Start(releaseName string) interfaces.Stage {
	l := s.layout()
	service := s.Application.Service
	unit := UnitPath(service)
	link := l.Current() + ".next"

	writeUnit := fmt.Sprintf(
		"tmp=$(mktemp) && printf '%%s' %[1]s > \"$tmp\" && "+
			"if %[2]scmp -s \"$tmp\" %[3]s; then rm -f \"$tmp\"; else "+
			"%[2]sinstall -m 0644 \"$tmp\" %[3]s && rm -f \"$tmp\" && %[2]ssystemctl daemon-reload; fi",
		Quote(s.Unit()), s.sudo(), Quote(unit))

	return interfaces.Stage{
		Name: interfaces.StageStart,
		Operations: []interfaces.Operation{
			{Name: OpWriteUnit, Command: writeUnit},
			{
				Name: OpActivateRelease,
				Command: fmt.Sprintf("ln -sfn %s %s && mv -Tf %s %s",
					Quote(path.Join("releases", releaseName)), Quote(link), Quote(link), Quote(l.Current())),
			},
			{
				Name:    OpRestartService,
				Command: fmt.Sprintf("%[1]ssystemctl enable -q %[2]s && %[1]ssystemctl restart %[2]s", s.sudo(), Quote(service)),
			},
		},
	}
}

// Unit renders the systemd unit supervising the application
func (s Stages) Unit() string {
	l := s.layout()
	current := l.Current()

	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=%s (launchpad)\n", s.Application.Name)
	b.WriteString("After=network-online.target\n\n")
	b.WriteString("[Service]\n")
	if s.Target.User != "" {
		fmt.Fprintf(&b, "User=%s\n", s.Target.User)
	}
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", current)
	fmt.Fprintf(&b, "Environment=PATH=%s/.venv/bin:/usr/local/bin:/usr/bin:/bin\n", current)

	keys := make([]string, 0, len(s.Application.Env))
	for k := range s.Application.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "Environment=%s\n", envQuote(k+"="+s.Application.Env[k]))
	}

	fmt.Fprintf(&b, "ExecStart=/usr/bin/env %s\n", s.Application.Command)
	b.WriteString("Restart=on-failure\nRestartSec=2\n\n")
	b.WriteString("[Install]\nWantedBy=multi-user.target\n")
	return b.String()
}

// envQuote quotes a systemd Environment= assignment
func envQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
