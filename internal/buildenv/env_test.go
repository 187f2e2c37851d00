package buildenv

import (
	"strings"
	"testing"

	"github.com/baserock/morph/pkg/morph"
)

func find(env []string, key string) (string, bool) {
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"="), true
		}
	}
	return "", false
}

func TestBuildScrubsNonWhitelistedVars(t *testing.T) {
	host := []string{"SECRET_TOKEN=xyz", "TMPDIR=/tmp/foo", "HOME=/root"}
	env := Build(host, Policy{ToolPrefix: "/tools", CFLAGS: "-O2"}, "x86_64", "/usr", morph.ModeNormal, "/dest", 4)

	if _, ok := find(env, "SECRET_TOKEN"); ok {
		t.Error("SECRET_TOKEN should not survive scrubbing")
	}
	if _, ok := find(env, "HOME"); ok {
		t.Error("HOME should not survive scrubbing")
	}
	if v, ok := find(env, "TMPDIR"); !ok || v != "/tmp/foo" {
		t.Errorf("TMPDIR = %q, %v; want /tmp/foo, true", v, ok)
	}
}

func TestBuildAlwaysSetsCoreVars(t *testing.T) {
	env := Build(nil, Policy{ToolPrefix: "/tools", CFLAGS: "-O2"}, "armv7", "/usr", morph.ModeNormal, "/dest/foo", 8)

	cases := map[string]string{
		"TOOLCHAIN_TARGET": "armv7",
		"CFLAGS":           "-O2",
		"PREFIX":           "/usr",
		"BOOTSTRAP":        "false",
		"DESTDIR":          "/dest/foo",
		"MAKEFLAGS":        "-j8",
		"PATH":             "/usr/bin:/tools/bin",
	}
	for key, want := range cases {
		got, ok := find(env, key)
		if !ok {
			t.Errorf("%s not set in env", key)
			continue
		}
		if got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestBuildBootstrapMode(t *testing.T) {
	env := Build(nil, Policy{ToolPrefix: "/tools", CFLAGS: ""}, "x86_64", "/tools", morph.ModeBootstrap, "/dest", 1)
	got, _ := find(env, "BOOTSTRAP")
	if got != "true" {
		t.Errorf("BOOTSTRAP = %q, want true", got)
	}
}

func TestBuildKeepPathAppendsHostPath(t *testing.T) {
	host := []string{"PATH=/usr/bin:/bin"}
	env := Build(host, Policy{ToolPrefix: "/tools", KeepPath: true}, "x86_64", "/usr", morph.ModeNormal, "/dest", 1)
	got, _ := find(env, "PATH")
	want := "/usr/bin:/tools/bin:/usr/bin:/bin"
	if got != want {
		t.Errorf("PATH = %q, want %q", got, want)
	}
}

func TestBuildWithoutKeepPathDropsHostPath(t *testing.T) {
	host := []string{"PATH=/usr/bin:/bin"}
	env := Build(host, Policy{ToolPrefix: "/tools"}, "x86_64", "/usr", morph.ModeNormal, "/dest", 1)
	got, _ := find(env, "PATH")
	if got != "/usr/bin:/tools/bin" {
		t.Errorf("PATH = %q, want /usr/bin:/tools/bin", got)
	}
}

func TestBuildCCachePrependsPath(t *testing.T) {
	env := Build(nil, Policy{ToolPrefix: "/tools", CCachePath: "/usr/lib/ccache"}, "x86_64", "/usr", morph.ModeNormal, "/dest", 1)
	got, _ := find(env, "PATH")
	if got != "/usr/lib/ccache:/usr/bin:/tools/bin" {
		t.Errorf("PATH = %q, want /usr/lib/ccache:/usr/bin:/tools/bin", got)
	}
}

func TestBuildPathIncludesChunkOwnPrefix(t *testing.T) {
	env := Build(nil, Policy{ToolPrefix: "/tools"}, "x86_64", "/opt/plover", morph.ModeNormal, "/dest", 1)
	got, _ := find(env, "PATH")
	if got != "/opt/plover/bin:/tools/bin" {
		t.Errorf("PATH = %q, want /opt/plover/bin:/tools/bin (chunk's own prefix must be searchable by later phases of the same build)", got)
	}
}

func TestDestDirForIsStableAndScopedPerUnit(t *testing.T) {
	a := DestDirFor("/staging", "glibc")
	b := DestDirFor("/staging", "gcc")
	if a == b {
		t.Error("DestDirFor should differ per unit name")
	}
	if DestDirFor("/staging", "glibc") != a {
		t.Error("DestDirFor should be deterministic")
	}
}
