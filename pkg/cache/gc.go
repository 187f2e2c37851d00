package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/baserock/morph/internal/morpherrors"
)

// gcIndex is a warm LRU view over the cache directory's meta files, so
// repeated GC passes don't re-stat every key group from scratch. The
// directory remains the source of truth; a cold process simply rebuilds
// the index from meta.last_access on first use.
type gcIndex struct {
	cache *lru.Cache[string, Meta]
}

func newGCIndex(capacity int) (*gcIndex, error) {
	c, err := lru.New[string, Meta](capacity)
	if err != nil {
		return nil, err
	}
	return &gcIndex{cache: c}, nil
}

// GC deletes whole key groups, oldest meta.last_access first, until at
// least targetFreeBytes would be free, or until no more keys remain.
// Partial (uncommitted) files are never counted or deleted by GC — only
// complete key groups, identified by the presence of a .meta file, per
// spec.md 3's lifecycle note: "GC is by LRU of whole keys, never partial."
func (l *Local) GC(targetFreeBytes int64) (int64, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, morpherrors.CacheIOError("", err)
	}

	type group struct {
		key        string
		lastAccess int64
		size       int64
	}
	groups := make(map[string]*group)

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".meta") {
			continue
		}
		key := strings.TrimSuffix(name, ".meta")
		var lastAccess int64
		if m, ok := l.idx.cache.Get(key); ok {
			lastAccess = m.LastAccess.UnixNano()
		} else if m, err := l.ReadMeta(key); err == nil {
			lastAccess = m.LastAccess.UnixNano()
		} else {
			continue
		}
		groups[key] = &group{key: key, lastAccess: lastAccess}
	}

	for _, e := range entries {
		name := e.Name()
		for key, g := range groups {
			if strings.HasPrefix(name, key+".") && !strings.HasSuffix(name, ".lock") {
				info, err := e.Info()
				if err == nil {
					g.size += info.Size()
				}
			}
		}
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].lastAccess < ordered[j].lastAccess })

	var freed int64
	for _, g := range ordered {
		if freed >= targetFreeBytes {
			break
		}
		matches, _ := filepath.Glob(filepath.Join(l.dir, g.key+".*"))
		for _, m := range matches {
			_ = os.Remove(m)
		}
		freed += g.size
	}
	return freed, nil
}
