package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"github.com/baserock/morph/internal/morpherrors"
)

// Local is the content-addressed local filesystem store described in
// spec.md 4.4/6: a flat <cachedir>/artifacts/ directory holding
// <key>.<kind>.<name>, <key>.build-log, <key>.meta, and <key>.lock files.
type Local struct {
	dir string
	fs  afero.Fs
	idx *gcIndex
}

// NewLocal constructs a Local store rooted at dir (created if absent). The
// advisory lock uses gofrs/flock directly against the real filesystem path,
// since flock(2) has no meaning against an in-memory afero.Fs. NewLocal
// always installs afero.NewOsFs, and Commit/Abort use os directly, so a
// Local always works on the real filesystem.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	idx, err := newGCIndex(4096)
	if err != nil {
		return nil, err
	}
	return &Local{dir: dir, fs: afero.NewOsFs(), idx: idx}, nil
}

// Dir returns the root directory this store is rooted at.
func (l *Local) Dir() string { return l.dir }

func (l *Local) path(key, suffix string) string {
	return filepath.Join(l.dir, key+suffix)
}

func (l *Local) artifactPath(key string, kind Kind, name string) string {
	return l.path(key, fmt.Sprintf(".%s.%s", kind, name))
}

// ArtifactPath exposes the final artifact tar's path for key/kind/name, for
// callers (the staging assembler, the stratum/system tarball builder) that
// need to read it directly rather than through OpenForRead.
func (l *Local) ArtifactPath(key string, kind Kind, name string) string {
	return l.artifactPath(key, kind, name)
}

// Has reports whether the final artifact file for (key, kind, name)
// exists, an O(1) stat per spec.md 4.4.
func (l *Local) Has(key string, kind Kind, name string) (bool, error) {
	_, err := l.fs.Stat(l.artifactPath(key, kind, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, morpherrors.CacheIOError(key, err)
	}
	return true, nil
}

// OpenForRead streams the artifact bytes for (key, kind, name).
func (l *Local) OpenForRead(key string, kind Kind, name string) (io.ReadCloser, error) {
	f, err := l.fs.Open(l.artifactPath(key, kind, name))
	if err != nil {
		return nil, morpherrors.CacheIOError(key, err)
	}
	return f, nil
}

// ReadMeta loads the <key>.meta sidecar.
func (l *Local) ReadMeta(key string) (*Meta, error) {
	data, err := afero.ReadFile(l.fs, l.path(key, ".meta"))
	if err != nil {
		return nil, morpherrors.CacheIOError(key, err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, morpherrors.CacheIOError(key, err)
	}
	l.idx.cache.Add(key, m)
	return &m, nil
}

// TouchLastAccess updates meta.last_access, the input to the LRU GC policy,
// both on disk and in the warm index so the next GC pass sees it without a
// re-read.
func (l *Local) TouchLastAccess(key string) error {
	m, err := l.ReadMeta(key)
	if err != nil {
		return err
	}
	m.LastAccess = time.Now()
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(l.fs, l.path(key, ".meta"), data, 0o644); err != nil {
		return err
	}
	l.idx.cache.Add(key, *m)
	return nil
}

// Claim attempts to acquire the exclusive <key>.lock. It returns StatusDone
// immediately if any final artifact already exists for key (checked via the
// meta file, whose presence is the commit-completion marker per invariant
// 2), StatusBusy if another holder currently has the lock, or a *Claim
// granting exclusive write rights otherwise. The lock is released on
// process exit even if uncommitted; reboot safety comes from the presence
// of the final files, not the lock, per spec.md 4.4.
func (l *Local) Claim(key string) (ClaimStatus, *Claim, error) {
	if _, err := l.fs.Stat(l.path(key, ".meta")); err == nil {
		return StatusDone, nil, nil
	}

	fl := flock.New(l.path(key, ".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return 0, nil, morpherrors.CacheIOError(key, err)
	}
	if !locked {
		return StatusBusy, nil, nil
	}

	// Re-check after acquiring the lock: another process may have committed
	// between our stat and our TryLock.
	if _, err := l.fs.Stat(l.path(key, ".meta")); err == nil {
		fl.Unlock()
		return StatusDone, nil, nil
	}

	return StatusClaimed, &Claim{local: l, key: key, flock: fl, started: time.Now()}, nil
}

// Claim represents exclusive write rights over one cache key, obtained via
// Local.Claim. The holder must call Commit or Abort exactly once.
type Claim struct {
	local   *Local
	key     string
	flock   *flock.Flock
	started time.Time
}

// PartialArtifactPath returns the path a builder should stream the
// in-progress artifact bytes to for the given split name.
func (c *Claim) PartialArtifactPath(kind Kind, name string) string {
	return c.local.path(c.key, fmt.Sprintf(".%s.%s.partial", kind, name))
}

// PartialBuildLogPath returns the path the build log is written to while
// the unit is in flight, so a log exists even if the build aborts mid-flight
// (the build-log-persistence invariant, spec.md 8.3).
func (c *Claim) PartialBuildLogPath() string {
	return c.local.path(c.key, ".build-log.partial")
}

// Commit atomically renames every *.partial file produced for this claim to
// its final name, writes the meta sidecar last (its presence is what makes
// an artifact group "done"), and releases the lock.
func (c *Claim) Commit(artifacts []ArtifactFile, meta *Meta) error {
	for _, a := range artifacts {
		final := c.local.artifactPath(c.key, a.Kind, a.Name)
		if err := os.Rename(a.PartialPath, final); err != nil {
			return morpherrors.CacheIOError(c.key, err)
		}
	}

	logFinal := c.local.path(c.key, ".build-log")
	if err := os.Rename(c.PartialBuildLogPath(), logFinal); err != nil {
		return morpherrors.CacheIOError(c.key, err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(c.local.fs, c.local.path(c.key, ".meta"), data, 0o644); err != nil {
		return morpherrors.CacheIOError(c.key, err)
	}

	return c.flock.Unlock()
}

// Abort discards any partial files for this claim (but deliberately leaves
// a partial build log in place if one exists, so that aborted-build
// diagnostics are not lost) and releases the lock.
func (c *Claim) Abort(partialPaths []string) error {
	for _, p := range partialPaths {
		_ = os.Remove(p)
	}
	return c.flock.Unlock()
}

// FinalizeLogOnly renames the in-progress build log to its final name
// without writing a meta sidecar or committing any artifact, preserving
// the build-log-persistence invariant (spec.md 8.3) for a unit whose build
// commands failed.
func (c *Claim) FinalizeLogOnly() error {
	logFinal := c.local.path(c.key, ".build-log")
	if err := os.Rename(c.PartialBuildLogPath(), logFinal); err != nil {
		return morpherrors.CacheIOError(c.key, err)
	}
	return c.flock.Unlock()
}

// ArtifactFile names one committed split-artifact file.
type ArtifactFile struct {
	Kind        Kind
	Name        string
	PartialPath string
}

// ListArtifacts returns every committed split-artifact file for key, parsed
// back out of the flat <key>.<kind>.<name> naming convention. Used by
// callers (the remote-cache uploader) that need to know what a Commit
// actually produced without having threaded the list through themselves.
func (l *Local) ListArtifacts(key string) ([]ArtifactFile, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, morpherrors.CacheIOError(key, err)
	}

	prefix := key + "."
	var out []ArtifactFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if strings.HasSuffix(rest, ".partial") || rest == "meta" || rest == "build-log" || rest == "lock" {
			continue
		}
		parts := strings.SplitN(rest, ".", 2)
		if len(parts) != 2 {
			continue
		}
		kind := Kind(parts[0])
		if kind != KindChunk && kind != KindStratum && kind != KindSystem {
			continue
		}
		out = append(out, ArtifactFile{Kind: kind, Name: parts[1]})
	}
	return out, nil
}
