package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/baserock/morph/internal/buildenv"
	"github.com/baserock/morph/internal/buildplan"
	"github.com/baserock/morph/internal/config"
	"github.com/baserock/morph/internal/gitcache"
	"github.com/baserock/morph/pkg/build"
	"github.com/baserock/morph/pkg/cache"
	"github.com/baserock/morph/pkg/graph"
	"github.com/baserock/morph/pkg/remotecache"
	"github.com/baserock/morph/pkg/resolver"
	"github.com/baserock/morph/pkg/stage"
)

// components bundles the constructed dependency graph every build-related
// subcommand needs, built once from the loaded configuration.
type components struct {
	cfg     *config.Config
	local   *cache.Local
	git     *gitcache.Cache
	res     *resolver.Resolver
	builder *graph.Builder
	bld     *build.Builder
	exec    *buildplan.Executor
	shared  SharedCache
}

// SharedCache is the existence check the distributed controller and the
// build-artifact subcommand both need: is this key already built somewhere
// reachable, so redundant work can be skipped. remoteSharedCache adapts
// remotecache.Client's filename-based API to it; cache.Local already
// satisfies it directly.
type SharedCache interface {
	Has(key string, kind cache.Kind, name string) (bool, error)
}

// Uploader is implemented by shared caches a worker can push a freshly
// committed artifact out to. cache.Local has nothing to upload to itself,
// so only remoteSharedCache satisfies this.
type Uploader interface {
	Put(ctx context.Context, filename string, data []byte) error
}

type remoteSharedCache struct{ client *remotecache.Client }

func (r remoteSharedCache) Has(key string, kind cache.Kind, name string) (bool, error) {
	filename := fmt.Sprintf("%s.%s.%s", key, kind, name)
	return r.client.Has(context.Background(), filename)
}

func (r remoteSharedCache) Put(ctx context.Context, filename string, data []byte) error {
	return r.client.Put(ctx, filename, data)
}

func wireComponents(cfg *config.Config) (*components, error) {
	local, err := cache.NewLocal(filepath.Join(cfg.CacheDir, "artifacts"))
	if err != nil {
		return nil, err
	}

	git := gitcache.New(cfg.GitCacheDir)
	res := resolver.New(git)

	policy := graph.Policy{Arch: cfg.Arch, CFLAGS: cfg.CFLAGS, Prefix: cfg.Prefix}
	gbuilder := graph.New(res, policy)

	assembler := stage.New(local, cfg.ToolPrefix)
	envPolicy := buildenv.Policy{ToolPrefix: cfg.ToolPrefix, CFLAGS: cfg.CFLAGS, KeepPath: cfg.KeepPath}
	bld := build.New(local, assembler, git, cfg.ToolPrefix, cfg.Arch, envPolicy, cfg.Jobs)

	executor := buildplan.New(bld, local, cfg.Jobs)

	var shared SharedCache = local
	if cfg.RemoteCache != "" {
		shared = remoteSharedCache{client: remotecache.NewClient(cfg.RemoteCache)}
	}

	return &components{
		cfg:     cfg,
		local:   local,
		git:     git,
		res:     res,
		builder: gbuilder,
		bld:     bld,
		exec:    executor,
		shared:  shared,
	}, nil
}
