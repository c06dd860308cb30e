// Package artifact stages application source trees into fingerprinted bundles
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// BundleName is the file name of a staged bundle inside its scoped directory
const BundleName = "bundle.tar.gz"

// skipped directory names and file suffixes when walking a source tree
var (
	skipDirs     = map[string]bool{".git": true, "__pycache__": true, ".venv": true}
	skipSuffixes = []string{".pyc"}
)

// Archive keeps bundles beyond the life of the local work directory
type Archive interface {
	Store(ctx context.Context, artifact *interfaces.Artifact) error
	Fetch(ctx context.Context, fingerprint, dest string) (revision string, err error)
}

// Stager implements interfaces.ArtifactStager on a local work directory.
// Concurrent runs of the same tree share one scoped directory, which is
// removed when the last of them releases it.
type Stager struct {
	workDir string
	archive Archive
	logger  *logging.Logger

	mu   sync.Mutex
	refs map[string]int
}

// Option configures a Stager
type Option func(*Stager)

// WithArchive stores every staged bundle in archive and lets Load fall back to it
func WithArchive(archive Archive) Option {
	return func(s *Stager) { s.archive = archive }
}

// NewStager creates a stager writing under workDir
func NewStager(workDir string, opts ...Option) (*Stager, error) {
	if workDir == "" {
		return nil, fmt.Errorf("artifact work directory is required")
	}
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact work directory: %w", err)
	}
	s := &Stager{
		workDir: workDir,
		logger:  logging.Stager,
		refs:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type sourceFile struct {
	rel  string // slash separated
	abs  string
	info fs.FileInfo
	link string
}

// executable reports whether any execute bit is set; it is the only mode
// bit carried into the bundle
func (f sourceFile) executable() bool {
	return f.info.Mode().Perm()&0o111 != 0
}

// Stage fingerprints sourceDir and writes its bundle
func (s *Stager) Stage(ctx context.Context, sourceDir, revision string) (*interfaces.Artifact, error) {
	files, err := collect(sourceDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, interfaces.NewError(interfaces.KindStaging, "source tree %s contains no files", sourceDir)
	}

	digest, err := fingerprint(ctx, files)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(s.workDir, digest)
	bundle := filepath.Join(dir, BundleName)

	s.mu.Lock()
	if err := ensureBundle(dir, bundle, files); err != nil {
		s.mu.Unlock()
		return nil, interfaces.WrapError(interfaces.KindStaging, err, "write bundle for %s", sourceDir)
	}
	s.refs[digest]++
	s.mu.Unlock()

	artifact := &interfaces.Artifact{
		Fingerprint: interfaces.FingerprintPrefix + digest,
		Revision:    revision,
		CreatedAt:   time.Now().UTC(),
		BundlePath:  bundle,
		Source:      sourceDir,
	}

	if s.archive != nil {
		if err := s.archive.Store(ctx, artifact); err != nil {
			// The local bundle is still usable; the archive is best effort.
			s.logger.Warn("Failed to archive %s: %v", artifact.Fingerprint, err)
		}
	}

	s.logger.Info("Staged %s revision=%q files=%d", artifact.Fingerprint, revision, len(files))
	return artifact, nil
}

// Load returns a previously staged artifact by fingerprint, fetching it from
// the archive when the local work directory no longer has it.
func (s *Stager) Load(ctx context.Context, fingerprint string) (*interfaces.Artifact, error) {
	digest := interfaces.ReleaseName(fingerprint)
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != sha256.Size*2 {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "invalid artifact fingerprint %q", fingerprint)
	}

	dir := filepath.Join(s.workDir, digest)
	bundle := filepath.Join(dir, BundleName)

	s.mu.Lock()
	defer s.mu.Unlock()

	artifact := &interfaces.Artifact{
		Fingerprint: interfaces.FingerprintPrefix + digest,
		CreatedAt:   time.Now().UTC(),
		BundlePath:  bundle,
	}

	if _, err := os.Stat(bundle); err != nil {
		if s.archive == nil {
			return nil, interfaces.NewError(interfaces.KindNotFound, "artifact %s is not staged", fingerprint)
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, interfaces.WrapError(interfaces.KindStaging, err, "create bundle directory")
		}
		revision, err := s.archive.Fetch(ctx, artifact.Fingerprint, bundle)
		if err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
		artifact.Revision = revision
		artifact.Source = "archive"
	}

	s.refs[digest]++
	return artifact, nil
}

// Release drops one reference to the artifact and removes its scoped
// directory when none remain.
func (s *Stager) Release(artifact *interfaces.Artifact) error {
	if artifact == nil {
		return nil
	}
	digest := artifact.ReleaseName()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs[digest] > 1 {
		s.refs[digest]--
		return nil
	}
	delete(s.refs, digest)

	if err := os.RemoveAll(filepath.Join(s.workDir, digest)); err != nil {
		return fmt.Errorf("remove staged artifact %s: %w", artifact.Fingerprint, err)
	}
	s.logger.Debug("Released %s", artifact.Fingerprint)
	return nil
}

func ensureBundle(dir, bundle string, files []sourceFile) error {
	if _, err := os.Stat(bundle); !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return writeBundle(bundle, files)
}

func skipped(name string, dir bool) bool {
	if dir {
		return skipDirs[name]
	}
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func collect(sourceDir string) ([]sourceFile, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, interfaces.WrapError(interfaces.KindStaging, err, "read source tree")
	}
	if !info.IsDir() {
		return nil, interfaces.NewError(interfaces.KindStaging, "source %s is not a directory", sourceDir)
	}

	var files []sourceFile
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == sourceDir {
			return nil
		}
		if skipped(d.Name(), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		f := sourceFile{rel: filepath.ToSlash(rel), abs: path, info: info}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			if f.link, err = os.Readlink(path); err != nil {
				return err
			}
		case !info.Mode().IsRegular():
			return nil
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, interfaces.WrapError(interfaces.KindStaging, err, "walk source tree %s", sourceDir)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// fingerprint hashes sorted relative paths, exec bits and contents. Each
// entry is framed by its kind, path and size so that moving bytes between
// files changes the digest.
func fingerprint(ctx context.Context, files []sourceFile) (string, error) {
	h := sha256.New()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if f.link != "" {
			_, _ = io.WriteString(h, "L\x00"+f.rel+"\x00"+f.link+"\x00")
			continue
		}
		kind := "F"
		if f.executable() {
			kind = "X"
		}
		_, _ = io.WriteString(h, kind+"\x00"+f.rel+"\x00"+strconv.FormatInt(f.info.Size(), 10)+"\x00")
		if err := hashFile(h, f.abs); err != nil {
			return "", interfaces.WrapError(interfaces.KindStaging, err, "read %s", f.rel)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	file, err := os.Open(path) //nolint:gosec // path comes from walking the source tree
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	_, err = io.Copy(w, file)
	return err
}
