package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// GitFetcher keeps one working copy per application and checks out the
// revision a trigger asks for.
type GitFetcher struct {
	baseDir string
	logger  *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGitFetcher creates a fetcher that keeps working copies under baseDir
func NewGitFetcher(baseDir string) (*GitFetcher, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create sources directory: %w", err)
	}
	return &GitFetcher{baseDir: baseDir, logger: logging.Trigger, locks: make(map[string]*sync.Mutex)}, nil
}

// CloneURL returns the URL used to clone an application's repository
func CloneURL(app interfaces.Application) string {
	if app.CloneURL != "" {
		return app.CloneURL
	}
	return "https://github.com/" + app.Repository + ".git"
}

// Fetch brings the application's working copy to revision and returns its
// path together with the resolved commit hash. The returned unlock must be
// called once the caller is done reading the tree.
func (f *GitFetcher) Fetch(ctx context.Context, app interfaces.Application, revision string) (dir, commit string, unlock func(), err error) {
	if revision == "" {
		return "", "", nil, interfaces.NewError(interfaces.KindInvalidInput, "revision is required to fetch %s", app.Repository)
	}

	lock := f.lockFor(app.Name)
	lock.Lock()
	defer func() {
		if err != nil {
			lock.Unlock()
		}
	}()

	dir = filepath.Join(f.baseDir, unsafeName.ReplaceAllString(app.Name, "_"))
	repo, err := f.open(ctx, dir, CloneURL(app))
	if err != nil {
		return "", "", nil, err
	}

	hash, err := resolve(repo, revision)
	if err != nil {
		return "", "", nil, interfaces.WrapError(interfaces.KindStaging, err, "resolve revision %q of %s", revision, app.Repository)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", "", nil, interfaces.WrapError(interfaces.KindStaging, err, "open worktree")
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return "", "", nil, interfaces.WrapError(interfaces.KindStaging, err, "checkout %s", hash)
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return "", "", nil, interfaces.WrapError(interfaces.KindStaging, err, "clean worktree")
	}

	f.logger.Info("Checked out %s@%s into %s", app.Repository, hash.String()[:12], dir)
	return dir, hash.String(), lock.Unlock, nil
}

func (f *GitFetcher) lockFor(name string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[name] = lock
	}
	return lock
}

func (f *GitFetcher) open(ctx context.Context, dir, url string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		f.logger.Info("Cloning %s", url)
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url})
		if err != nil {
			_ = os.RemoveAll(dir)
			return nil, interfaces.WrapError(interfaces.KindStaging, err, "clone %s", url)
		}
		return repo, nil
	}
	if err != nil {
		return nil, interfaces.WrapError(interfaces.KindStaging, err, "open working copy %s", dir)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: git.DefaultRemoteName, Force: true, Tags: git.AllTags})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, interfaces.WrapError(interfaces.KindStaging, err, "fetch %s", url)
	}
	return repo, nil
}

// resolve accepts a branch name (taken from the remote), a tag or a commit hash
func resolve(repo *git.Repository, revision string) (plumbing.Hash, error) {
	candidates := []string{
		"refs/remotes/" + git.DefaultRemoteName + "/" + revision,
		"refs/tags/" + revision,
		revision,
	}
	var lastErr error
	for _, candidate := range candidates {
		hash, err := repo.ResolveRevision(plumbing.Revision(candidate))
		if err == nil {
			return *hash, nil
		}
		lastErr = err
	}
	return plumbing.ZeroHash, lastErr
}
