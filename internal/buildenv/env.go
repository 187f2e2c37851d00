// Package buildenv computes the scrubbed environment a chunk's build
// commands run with, as a pure function so it is testable without spawning
// any subprocess.
package buildenv

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/baserock/morph/pkg/morph"
)

// whitelist is the set of host environment variables retained verbatim, per
// spec.md 4.5/6.
var whitelist = []string{
	"DISTCC_HOSTS", "TMPDIR", "LD_PRELOAD", "LD_LIBRARY_PATH",
	"FAKEROOTKEY", "FAKED_MODE", "FAKEROOT_FD_BASE",
}

// Policy carries the build-time settings needed to compute the final env.
type Policy struct {
	ToolPrefix string // e.g. /tools
	CFLAGS     string
	KeepPath   bool
	CCachePath string // optional ccache wrapper directory, prepended to PATH if set
}

// Build constructs the environment slice (suitable for exec.Cmd.Env) a
// chunk's build phases run with: a whitelisted subset of the host
// environment, plus the always-set variables TOOLCHAIN_TARGET, CFLAGS,
// PREFIX, BOOTSTRAP, DESTDIR, MAKEFLAGS.
func Build(hostEnv []string, policy Policy, arch, prefix string, mode morph.BuildMode, destDir string, jobs int) []string {
	hostMap := splitEnv(hostEnv)

	out := make([]string, 0, len(whitelist)+8)
	for _, k := range whitelist {
		if v, ok := hostMap[k]; ok {
			out = append(out, k+"="+v)
		}
	}

	path := prefix + "/bin:" + policy.ToolPrefix + "/bin"
	if policy.CCachePath != "" {
		path = policy.CCachePath + ":" + path
	}
	if policy.KeepPath {
		if v, ok := hostMap["PATH"]; ok {
			path = path + ":" + v
		}
	}
	out = append(out, "PATH="+path)

	bootstrap := "false"
	if mode == morph.ModeBootstrap {
		bootstrap = "true"
	}

	out = append(out,
		"TOOLCHAIN_TARGET="+arch,
		"CFLAGS="+policy.CFLAGS,
		"PREFIX="+prefix,
		"BOOTSTRAP="+bootstrap,
		"DESTDIR="+destDir,
		fmt.Sprintf("MAKEFLAGS=-j%d", jobs),
	)
	return out
}

// HostEnviron is a thin wrapper over os.Environ so callers can inject a
// fake host environment in tests.
func HostEnviron() []string { return os.Environ() }

func splitEnv(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

// DestDirFor returns the conventional per-unit DESTDIR path under a staging
// root, used by both the builder and tests asserting on DESTDIR contents.
func DestDirFor(stagingRoot, unitName string) string {
	return filepath.Join(stagingRoot, ".morph-destdir", unitName)
}
