// Package build implements the staging builder: it runs a chunk build
// unit's phases in the assembled staging root and captures $DESTDIR into
// cache artifacts.
package build

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/baserock/morph/internal/buildenv"
	"github.com/baserock/morph/internal/morpherrors"
	"github.com/baserock/morph/pkg/cache"
	"github.com/baserock/morph/pkg/graph"
	"github.com/baserock/morph/pkg/morph"
	"github.com/baserock/morph/pkg/stage"
)

// Builder produces one artifact from one chunk build unit.
type Builder struct {
	local      *cache.Local
	assembler  *stage.Assembler
	git        stage.GitChecker
	toolPrefix string
	arch       string
	envPolicy  buildenv.Policy
	jobs       int
}

// New constructs a Builder.
func New(local *cache.Local, assembler *stage.Assembler, git stage.GitChecker, toolPrefix, arch string, envPolicy buildenv.Policy, jobs int) *Builder {
	return &Builder{local: local, assembler: assembler, git: git, toolPrefix: toolPrefix, arch: arch, envPolicy: envPolicy, jobs: jobs}
}

// Build runs unit's phases to completion. It returns nil if the unit's
// artifact already existed (StatusDone) or was built and committed
// successfully; it returns a *morpherrors.Error of kind BuildCommandFailed
// if a phase command exited non-zero.
func (b *Builder) Build(ctx context.Context, unit *graph.Unit) error {
	if unit.Kind != graph.UnitChunk {
		return fmt.Errorf("build.Builder.Build only builds chunk units, got %s", unit)
	}

	status, claim, err := b.local.Claim(unit.CacheKey)
	if err != nil {
		return err
	}
	switch status {
	case cache.StatusDone:
		return nil
	case cache.StatusBusy:
		return morpherrors.CacheIOError(unit.CacheKey, fmt.Errorf("claim busy"))
	}

	logFile, err := os.Create(claim.PartialBuildLogPath())
	if err != nil {
		claim.Abort(nil)
		return morpherrors.CacheIOError(unit.CacheKey, err)
	}
	defer logFile.Close()

	stagingRoot, err := os.MkdirTemp("", "morph-stage-*")
	if err != nil {
		claim.Abort(nil)
		return err
	}
	defer os.RemoveAll(stagingRoot)

	if err := b.assembler.Assemble(stagingRoot, unit); err != nil {
		claim.Abort(nil)
		return err
	}

	buildDir, err := stage.CheckoutSource(b.git, unit, stagingRoot)
	if err != nil {
		claim.Abort(nil)
		return err
	}

	destDir := buildenv.DestDirFor(stagingRoot, unit.Chunk.Name)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		claim.Abort(nil)
		return err
	}

	env := buildenv.Build(buildenv.HostEnviron(), b.envPolicy, b.arch, unit.Prefix, unit.BuildMode, destDir, jobsFor(unit.Chunk, b.jobs))

	for _, phase := range morph.Phases {
		cmds := unit.Chunk.Commands[phase]
		if len(cmds) == 0 {
			cmds = defaultCommands(unit.Chunk.BuildSystem, phase)
		}
		for _, cmdline := range cmds {
			fmt.Fprintf(logFile, "+ [%s] %s\n", phase, cmdline)
			exitCode, err := runCommand(ctx, cmdline, buildDir, env, logFile)
			if err != nil || exitCode != 0 {
				claim.FinalizeLogOnly()
				return morpherrors.BuildCommandFailed(unit.ArtifactName, string(phase), exitCode, err)
			}
		}
	}

	artifacts, err := captureOutputs(destDir, unit, claim)
	if err != nil {
		claim.FinalizeLogOnly()
		return err
	}

	meta := &cache.Meta{
		Key:        unit.CacheKey,
		Kind:       cache.Kind(unit.Kind),
		Name:       unit.ArtifactName,
		SourceSHA:  unit.SourceSHA,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		LastAccess: time.Now(),
	}
	for _, d := range unit.Dependencies {
		meta.Dependencies = append(meta.Dependencies, d.CacheKey)
	}
	sort.Strings(meta.Dependencies)

	return claim.Commit(artifacts, meta)
}

func jobsFor(chunk *morph.Chunk, fallback int) int {
	if chunk.MaxJobs > 0 {
		return chunk.MaxJobs
	}
	return fallback
}

// runCommand runs cmdline through /bin/sh -c in the caller's process group
// (so the exec helper's kill of that group reaches the whole tree), streaming
// merged stdout+stderr into the build log.
func runCommand(ctx context.Context, cmdline, dir string, env []string, logOut io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	cmd.Dir = dir
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		fmt.Fprintln(logOut, scanner.Text())
	}

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// captureOutputs walks destDir, matches each file against unit's product
// rules in declaration order (first match wins; unmatched files go to a
// catch-all split named after the unit itself), and tars each split to its
// partial path.
func captureOutputs(destDir string, unit *graph.Unit, claim *cache.Claim) ([]cache.ArtifactFile, error) {
	rules := unit.Products
	buckets := make(map[string][]string) // artifact name -> relative paths
	catchAll := unit.ArtifactName

	err := filepath.Walk(destDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(destDir, path)
		artifact := catchAll
		for _, r := range rules {
			if matchesAny(r.Include, rel) {
				artifact = r.Artifact
				break
			}
		}
		buckets[artifact] = append(buckets[artifact], rel)
		return nil
	})
	if err != nil {
		return nil, morpherrors.CacheIOError(unit.CacheKey, err)
	}

	if len(buckets) == 0 {
		buckets[catchAll] = nil // still produce an (empty) artifact
	}

	var artifacts []cache.ArtifactFile
	for name := range buckets {
		splitDir, err := os.MkdirTemp("", "morph-split-*")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(splitDir)

		for _, rel := range buckets[name] {
			src := filepath.Join(destDir, rel)
			dst := filepath.Join(splitDir, rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return nil, err
			}
			if err := copyFile(src, dst); err != nil {
				return nil, err
			}
		}

		partial := claim.PartialArtifactPath(cache.Kind(unit.Kind), name)
		if err := cache.PackTar(splitDir, partial); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, cache.ArtifactFile{Kind: cache.Kind(unit.Kind), Name: name, PartialPath: partial})
	}
	return artifacts, nil
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := regexp.MatchString(p, path); err == nil && ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
