// Package gitcache implements the GitRepoCache collaborator the source
// resolver depends on: a local mirror of each referenced repository, with
// ref resolution, blob reads, and submodule pin discovery.
package gitcache

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/baserock/morph/internal/morpherrors"
)

// Submodule is one entry of a repository's .gitmodules, resolved to the
// commit it is pinned at in a specific parent commit.
type Submodule struct {
	Path string
	URL  string
	SHA  string
}

// Cache is the concrete GitRepoCache: a directory of bare mirror clones
// keyed by URL-encoded repository URL, per the on-disk layout in
// <cachedir>/gits/<urlencoded-repo>/.
type Cache struct {
	baseDir string

	mu    sync.Mutex
	repos map[string]*git.Repository
}

// New constructs a Cache rooted at baseDir (typically Config.GitCacheDir).
func New(baseDir string) *Cache {
	return &Cache{baseDir: baseDir, repos: make(map[string]*git.Repository)}
}

func (c *Cache) mirrorPath(repo string) string {
	return filepath.Join(c.baseDir, url.QueryEscape(repo))
}

// EnsureFetched clones repo as a bare mirror if absent, or fetches into the
// existing mirror otherwise. Safe for concurrent use across distinct repo
// URLs; a single repo URL is serialised through the in-process cache.
func (c *Cache) EnsureFetched(repo string) (*git.Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.repos[repo]; ok {
		if err := fetchAll(r); err != nil {
			return nil, err
		}
		return r, nil
	}

	path := c.mirrorPath(repo)
	if _, err := os.Stat(path); err == nil {
		r, err := git.PlainOpen(path)
		if err != nil {
			return nil, morpherrors.SourceUnavailable(repo, "", err)
		}
		if err := fetchAll(r); err != nil {
			return nil, err
		}
		c.repos[repo] = r
		return r, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, morpherrors.SourceUnavailable(repo, "", err)
	}
	r, err := git.PlainClone(path, true, &git.CloneOptions{URL: repo})
	if err != nil {
		return nil, morpherrors.SourceUnavailable(repo, "", err)
	}
	c.repos[repo] = r
	return r, nil
}

func fetchAll(r *git.Repository) error {
	err := r.Fetch(&git.FetchOptions{
		RefSpecs: []config.RefSpec{"+refs/*:refs/*"},
		Force:    true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return err
	}
	return nil
}

// ResolveRef pins a floating ref (branch or tag name) or an already-absolute
// SHA1 to a commit SHA1, so later ref movement cannot silently change a
// cache key's inputs.
func (c *Cache) ResolveRef(repo, ref string) (string, error) {
	r, err := c.EnsureFetched(repo)
	if err != nil {
		return "", err
	}

	if plumbing.IsHash(ref) {
		return ref, nil
	}

	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewTagReferenceName(ref),
		plumbing.ReferenceName(ref),
	}
	for _, name := range candidates {
		if rf, err := r.Reference(name, true); err == nil {
			return rf.Hash().String(), nil
		}
	}

	hash, err := r.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", morpherrors.SourceUnavailable(repo, ref, err)
	}
	return hash.String(), nil
}

// CatFile reads the bytes of path as it exists in the tree of commit sha.
func (c *Cache) CatFile(repo, sha, path string) ([]byte, error) {
	r, err := c.EnsureFetched(repo)
	if err != nil {
		return nil, err
	}

	commit, err := r.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, morpherrors.SourceUnavailable(repo, sha, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, morpherrors.SourceUnavailable(repo, sha, err)
	}
	f, err := tree.File(path)
	if err != nil {
		return nil, morpherrors.SourceUnavailable(repo, sha, errors.Wrapf(err, "path %q not found", path))
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, morpherrors.SourceUnavailable(repo, sha, err)
	}
	return []byte(contents), nil
}

// SubmodulesAt returns the submodule pins recorded in .gitmodules at the
// given commit. Only the commit's own submodules are listed; submodules
// nested inside them are not followed. Used both for source checkout (S6) and for folding
// submodule identity into the cache key.
func (c *Cache) SubmodulesAt(repo, sha string) ([]Submodule, error) {
	r, err := c.EnsureFetched(repo)
	if err != nil {
		return nil, err
	}

	commit, err := r.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, morpherrors.SourceUnavailable(repo, sha, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, morpherrors.SourceUnavailable(repo, sha, err)
	}

	f, err := tree.File(".gitmodules")
	if err != nil {
		// No submodules is not an error.
		return nil, nil
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, morpherrors.SourceUnavailable(repo, sha, err)
	}

	modCfg := config.NewModules()
	if err := modCfg.Unmarshal([]byte(contents)); err != nil {
		return nil, morpherrors.InvalidMorphology(repo, fmt.Sprintf(".gitmodules parse error: %v", err))
	}

	var subs []Submodule
	for _, sub := range modCfg.Submodules {
		entry, err := tree.FindEntry(sub.Path)
		if err != nil {
			continue
		}
		subs = append(subs, Submodule{
			Path: sub.Path,
			URL:  sub.URL,
			SHA:  entry.Hash.String(),
		})
	}
	return subs, nil
}

// Checkout materialises the tree at sha (including submodules, recursively)
// into destDir, used by the staging assembler's source-fetch step.
func (c *Cache) Checkout(repo, sha, destDir string) error {
	r, err := c.EnsureFetched(repo)
	if err != nil {
		return err
	}
	commit, err := r.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return morpherrors.SourceUnavailable(repo, sha, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return morpherrors.SourceUnavailable(repo, sha, err)
	}
	if err := writeTree(tree, destDir); err != nil {
		return morpherrors.SourceUnavailable(repo, sha, err)
	}

	subs, err := c.SubmodulesAt(repo, sha)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := c.Checkout(sub.URL, sub.SHA, filepath.Join(destDir, sub.Path)); err != nil {
			return err
		}
	}
	return nil
}

func writeTree(tree *object.Tree, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	return tree.Files().ForEach(func(f *object.File) error {
		full := filepath.Join(destDir, f.Name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		contents, err := f.Contents()
		if err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if f.Mode&0o111 != 0 {
			mode = 0o755
		}
		return os.WriteFile(full, []byte(contents), mode)
	})
}
