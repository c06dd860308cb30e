package artifact

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func newTestStager(t *testing.T, opts ...Option) *Stager {
	t.Helper()
	s, err := NewStager(filepath.Join(t.TempDir(), "artifacts"), opts...)
	require.NoError(t, err)
	return s
}

func bundleEntries(t *testing.T, path string) map[string]*tar.Header {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	gz, err := gzip.NewReader(file)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := make(map[string]*tar.Header)
	var order []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		entries[hdr.Name] = hdr
		order = append(order, hdr.Name)
	}
	assert.IsIncreasing(t, order)
	return entries
}

var appTree = map[string]string{
	"app.py":                          "from flask import Flask\n",
	"requirements.txt":                "flask==3.0.0\n",
	"templates/index.html":            "<h1>hi</h1>\n",
	".git/HEAD":                       "ref: refs/heads/main\n",
	"__pycache__/app.cpython-312.pyc": "bytecode",
	"lib/helpers.pyc":                 "bytecode",
	".venv/bin/python":                "#!/bin/sh\n",
}

func TestStager_StageFingerprintsAndBundles(t *testing.T) {
	s := newTestStager(t)
	src := writeTree(t, appTree)

	artifact, err := s.Stage(context.Background(), src, "abc123")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(artifact.Fingerprint, interfaces.FingerprintPrefix))
	assert.Len(t, artifact.ReleaseName(), 64)
	assert.Equal(t, "abc123", artifact.Revision)
	assert.Equal(t, filepath.Join(s.workDir, artifact.ReleaseName(), BundleName), artifact.BundlePath)

	entries := bundleEntries(t, artifact.BundlePath)
	assert.Len(t, entries, 3)
	for _, name := range []string{"app.py", "requirements.txt", "templates/index.html"} {
		hdr, ok := entries[name]
		require.True(t, ok, name)
		assert.Equal(t, int64(0), hdr.ModTime.Unix())
		assert.Equal(t, int64(fileMode), hdr.Mode)
	}
}

func TestStager_SameTreeSameFingerprint(t *testing.T) {
	s := newTestStager(t)
	ctx := context.Background()

	a1, err := s.Stage(ctx, writeTree(t, appTree), "r1")
	require.NoError(t, err)
	first, err := os.ReadFile(a1.BundlePath)
	require.NoError(t, err)
	require.NoError(t, s.Release(a1))

	// Skipped paths do not contribute to the fingerprint
	other := writeTree(t, map[string]string{
		"app.py":               appTree["app.py"],
		"requirements.txt":     appTree["requirements.txt"],
		"templates/index.html": appTree["templates/index.html"],
		"__pycache__/x.pyc":    "different bytecode",
	})
	a2, err := s.Stage(ctx, other, "r2")
	require.NoError(t, err)
	second, err := os.ReadFile(a2.BundlePath)
	require.NoError(t, err)

	assert.Equal(t, a1.Fingerprint, a2.Fingerprint)
	assert.Equal(t, first, second)
}

func TestStager_ContentChangesFingerprint(t *testing.T) {
	s := newTestStager(t)
	ctx := context.Background()

	a1, err := s.Stage(ctx, writeTree(t, map[string]string{"app.py": "v1"}), "")
	require.NoError(t, err)
	a2, err := s.Stage(ctx, writeTree(t, map[string]string{"app.py": "v2"}), "")
	require.NoError(t, err)
	a3, err := s.Stage(ctx, writeTree(t, map[string]string{"main.py": "v1"}), "")
	require.NoError(t, err)

	assert.NotEqual(t, a1.Fingerprint, a2.Fingerprint)
	assert.NotEqual(t, a1.Fingerprint, a3.Fingerprint)
}

func TestStager_StagingErrors(t *testing.T) {
	s := newTestStager(t)
	ctx := context.Background()

	tests := []struct {
		name string
		dir  string
	}{
		{name: "missing directory", dir: filepath.Join(t.TempDir(), "nope")},
		{name: "empty tree", dir: t.TempDir()},
		{name: "only skipped files", dir: writeTree(t, map[string]string{".git/config": "x", "a.pyc": "y"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Stage(ctx, tt.dir, "")
			require.Error(t, err)
			assert.True(t, interfaces.IsKind(err, interfaces.KindStaging))
		})
	}

	file := filepath.Join(t.TempDir(), "app.py")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err := s.Stage(ctx, file, "")
	assert.True(t, interfaces.IsKind(err, interfaces.KindStaging))
}

func TestStager_ReleaseIsReferenceCounted(t *testing.T) {
	s := newTestStager(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{"app.py": "print(1)"})

	a1, err := s.Stage(ctx, src, "")
	require.NoError(t, err)
	a2, err := s.Stage(ctx, src, "")
	require.NoError(t, err)
	require.Equal(t, a1.BundlePath, a2.BundlePath)

	require.NoError(t, s.Release(a1))
	assert.FileExists(t, a2.BundlePath)

	require.NoError(t, s.Release(a2))
	assert.NoDirExists(t, filepath.Dir(a2.BundlePath))

	assert.NoError(t, s.Release(nil))
}

func TestStager_ExecutableBitKept(t *testing.T) {
	s := newTestStager(t)
	src := writeTree(t, map[string]string{"app.py": "x"})
	require.NoError(t, os.WriteFile(filepath.Join(src, "run.sh"), []byte("#!/bin/sh\n"), 0o700))

	artifact, err := s.Stage(context.Background(), src, "")
	require.NoError(t, err)

	entries := bundleEntries(t, artifact.BundlePath)
	assert.Equal(t, int64(execMode), entries["run.sh"].Mode)
	assert.Equal(t, int64(fileMode), entries["app.py"].Mode)
}

func TestStager_ExecutableBitChangesFingerprint(t *testing.T) {
	s := newTestStager(t)
	ctx := context.Background()

	plain := writeTree(t, map[string]string{"app.py": "x"})
	require.NoError(t, os.WriteFile(filepath.Join(plain, "run.sh"), []byte("#!/bin/sh\n"), 0o600))
	executable := writeTree(t, map[string]string{"app.py": "x"})
	require.NoError(t, os.WriteFile(filepath.Join(executable, "run.sh"), []byte("#!/bin/sh\n"), 0o700))

	a1, err := s.Stage(ctx, plain, "")
	require.NoError(t, err)
	a2, err := s.Stage(ctx, executable, "")
	require.NoError(t, err)

	assert.NotEqual(t, a1.Fingerprint, a2.Fingerprint)
	assert.NotEqual(t, a1.BundlePath, a2.BundlePath)
	assert.Equal(t, int64(execMode), bundleEntries(t, a2.BundlePath)["run.sh"].Mode)
}

type memoryArchive struct {
	bundles   map[string][]byte
	revisions map[string]string
}

func (m *memoryArchive) Store(_ context.Context, a *interfaces.Artifact) error {
	data, err := os.ReadFile(a.BundlePath)
	if err != nil {
		return err
	}
	m.bundles[a.Fingerprint] = data
	m.revisions[a.Fingerprint] = a.Revision
	return nil
}

func (m *memoryArchive) Fetch(_ context.Context, fingerprint, dest string) (string, error) {
	data, ok := m.bundles[fingerprint]
	if !ok {
		return "", interfaces.NewError(interfaces.KindNotFound, "artifact %s is not archived", fingerprint)
	}
	return m.revisions[fingerprint], os.WriteFile(dest, data, 0o600)
}

func TestStager_LoadFromArchive(t *testing.T) {
	archive := &memoryArchive{bundles: map[string][]byte{}, revisions: map[string]string{}}
	s := newTestStager(t, WithArchive(archive))
	ctx := context.Background()

	staged, err := s.Stage(ctx, writeTree(t, map[string]string{"app.py": "v1"}), "r1")
	require.NoError(t, err)
	require.Contains(t, archive.bundles, staged.Fingerprint)
	require.NoError(t, s.Release(staged))
	require.NoFileExists(t, staged.BundlePath)

	loaded, err := s.Load(ctx, staged.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, staged.Fingerprint, loaded.Fingerprint)
	assert.Equal(t, "r1", loaded.Revision)
	assert.FileExists(t, loaded.BundlePath)

	_, err = s.Load(ctx, interfaces.FingerprintPrefix+strings.Repeat("0", 64))
	assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))

	_, err = s.Load(ctx, "sha256:not-hex")
	assert.True(t, interfaces.IsKind(err, interfaces.KindInvalidInput))
}

func TestStager_LoadWithoutArchive(t *testing.T) {
	s := newTestStager(t)
	ctx := context.Background()

	staged, err := s.Stage(ctx, writeTree(t, map[string]string{"app.py": "v1"}), "")
	require.NoError(t, err)

	loaded, err := s.Load(ctx, staged.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, staged.BundlePath, loaded.BundlePath)

	require.NoError(t, s.Release(staged))
	require.NoError(t, s.Release(loaded))

	_, err = s.Load(ctx, staged.Fingerprint)
	assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))
}
