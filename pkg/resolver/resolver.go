// Package resolver implements the source resolver: resolve(repo, ref,
// morph_path) -> (sha, text, submodules[]), a pure function of inputs given
// a fixed git state, memoised in-process.
package resolver

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/baserock/morph/internal/gitcache"
)

// GitRepoCache is the external collaborator the resolver depends on. The
// concrete implementation is internal/gitcache.Cache; this interface keeps
// the resolver testable against a fake.
type GitRepoCache interface {
	ResolveRef(repo, ref string) (string, error)
	CatFile(repo, sha, path string) ([]byte, error)
	SubmodulesAt(repo, sha string) ([]gitcache.Submodule, error)
}

// Resolved is the output of a resolve call: a commit SHA1, the morphology
// text at that commit, and the submodule pins recorded at that commit
// (direct submodules only; nested submodules are not included).
type Resolved struct {
	SHA        string
	Text       []byte
	Submodules []gitcache.Submodule
}

// Resolver resolves (repo, ref, morph_path) tuples, pinning floating refs to
// a SHA1 before any cache key is computed, and memoising both ref
// resolution and the full tuple so repeated graph-builder lookups for the
// same input are free.
type Resolver struct {
	git GitRepoCache

	group singleflight.Group

	mu        sync.Mutex
	refCache  map[refKey]string
	fullCache map[fullKey]*Resolved
}

type refKey struct{ repo, ref string }
type fullKey struct{ repo, sha, path string }

// New constructs a Resolver over the given GitRepoCache.
func New(git GitRepoCache) *Resolver {
	return &Resolver{
		git:       git,
		refCache:  make(map[refKey]string),
		fullCache: make(map[fullKey]*Resolved),
	}
}

// Resolve pins ref to a commit SHA, reads the morphology text at morphPath
// in that commit, and discovers submodule pins. Concurrent calls for the
// same (repo, ref, morphPath) share a single underlying git operation.
func (r *Resolver) Resolve(repo, ref, morphPath string) (*Resolved, error) {
	sha, err := r.resolveRefCached(repo, ref)
	if err != nil {
		return nil, err
	}

	fk := fullKey{repo, sha, morphPath}
	r.mu.Lock()
	if cached, ok := r.fullCache[fk]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	groupKey := fmt.Sprintf("%s|%s|%s", repo, sha, morphPath)
	v, err, _ := r.group.Do(groupKey, func() (interface{}, error) {
		r.mu.Lock()
		if cached, ok := r.fullCache[fk]; ok {
			r.mu.Unlock()
			return cached, nil
		}
		r.mu.Unlock()

		text, err := r.git.CatFile(repo, sha, morphPath)
		if err != nil {
			return nil, err
		}
		subs, err := r.git.SubmodulesAt(repo, sha)
		if err != nil {
			return nil, err
		}
		resolved := &Resolved{SHA: sha, Text: text, Submodules: subs}
		r.mu.Lock()
		r.fullCache[fk] = resolved
		r.mu.Unlock()
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolved), nil
}

func (r *Resolver) resolveRefCached(repo, ref string) (string, error) {
	rk := refKey{repo, ref}
	r.mu.Lock()
	if sha, ok := r.refCache[rk]; ok {
		r.mu.Unlock()
		return sha, nil
	}
	r.mu.Unlock()

	groupKey := "ref|" + repo + "|" + ref
	v, err, _ := r.group.Do(groupKey, func() (interface{}, error) {
		return r.git.ResolveRef(repo, ref)
	})
	if err != nil {
		return "", err
	}
	sha := v.(string)

	r.mu.Lock()
	r.refCache[rk] = sha
	r.mu.Unlock()
	return sha, nil
}
