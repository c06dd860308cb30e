package artifact

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/interfaces"
)

type upstream struct {
	t    *testing.T
	dir  string
	repo *git.Repository
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return &upstream{t: t, dir: dir, repo: repo}
}

func (u *upstream) commit(files map[string]string) string {
	u.t.Helper()
	wt, err := u.repo.Worktree()
	require.NoError(u.t, err)
	for name, content := range files {
		require.NoError(u.t, os.WriteFile(filepath.Join(u.dir, name), []byte(content), 0o600))
		_, err := wt.Add(name)
		require.NoError(u.t, err)
	}
	hash, err := wt.Commit("update", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(u.t, err)
	return hash.String()
}

func TestCloneURL(t *testing.T) {
	assert.Equal(t, "https://github.com/acme/shop.git", CloneURL(interfaces.Application{Repository: "acme/shop"}))
	assert.Equal(t, "/srv/git/shop", CloneURL(interfaces.Application{Repository: "acme/shop", CloneURL: "/srv/git/shop"}))
}

func TestGitFetcher_FetchRevisions(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed; local clone transport unavailable")
	}

	up := newUpstream(t)
	first := up.commit(map[string]string{"app.py": "v1"})

	fetcher, err := NewGitFetcher(t.TempDir())
	require.NoError(t, err)
	app := interfaces.Application{Name: "shop", Repository: "acme/shop", CloneURL: up.dir}
	ctx := context.Background()

	dir, commit, unlock, err := fetcher.Fetch(ctx, app, first)
	require.NoError(t, err)
	assert.Equal(t, first, commit)
	content, err := os.ReadFile(filepath.Join(dir, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))
	unlock()

	second := up.commit(map[string]string{"app.py": "v2"})
	head, err := up.repo.Head()
	require.NoError(t, err)

	// A branch name resolves against the freshly fetched remote ref
	dir, commit, unlock, err = fetcher.Fetch(ctx, app, head.Name().Short())
	require.NoError(t, err)
	assert.Equal(t, second, commit)
	content, err = os.ReadFile(filepath.Join(dir, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
	unlock()

	// Going back to an older commit works from the same working copy
	_, commit, unlock, err = fetcher.Fetch(ctx, app, first)
	require.NoError(t, err)
	assert.Equal(t, first, commit)
	unlock()

	_, _, _, err = fetcher.Fetch(ctx, app, plumbing.NewHash("1111111111111111111111111111111111111111").String())
	require.Error(t, err)
	assert.True(t, interfaces.IsKind(err, interfaces.KindStaging))
}

func TestGitFetcher_RequiresRevision(t *testing.T) {
	fetcher, err := NewGitFetcher(t.TempDir())
	require.NoError(t, err)

	_, _, _, err = fetcher.Fetch(context.Background(), interfaces.Application{Name: "shop"}, "")
	assert.True(t, interfaces.IsKind(err, interfaces.KindInvalidInput))
}
