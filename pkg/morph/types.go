// Package morph defines the morphology data model: the tagged record types
// that a chunk, stratum, system, or cluster definition is loaded into, and
// the canonical form that feeds the artifact cache key.
package morph

// Kind identifies which of the four morphology variants a record is.
type Kind string

const (
	KindChunk    Kind = "chunk"
	KindStratum  Kind = "stratum"
	KindSystem   Kind = "system"
	KindCluster  Kind = "cluster"
)

// Phase is one of the ordered build phases a chunk may define commands for.
type Phase string

const (
	PhasePreConfigure  Phase = "pre-configure"
	PhaseConfigure     Phase = "configure"
	PhasePostConfigure Phase = "post-configure"
	PhasePreBuild      Phase = "pre-build"
	PhaseBuild         Phase = "build"
	PhasePostBuild     Phase = "post-build"
	PhasePreInstall    Phase = "pre-install"
	PhaseInstall       Phase = "install"
	PhasePostInstall   Phase = "post-install"
)

// Phases is the canonical phase order; the staging builder iterates it
// exactly in this sequence.
var Phases = []Phase{
	PhasePreConfigure, PhaseConfigure, PhasePostConfigure,
	PhasePreBuild, PhaseBuild, PhasePostBuild,
	PhasePreInstall, PhaseInstall, PhasePostInstall,
}

// BuildMode controls where a chunk's artifact is installed and whether it is
// part of the final output.
type BuildMode string

const (
	ModeNormal    BuildMode = "normal"
	ModeTest      BuildMode = "test"
	ModeBootstrap BuildMode = "bootstrap"
)

// ProductRule maps a regex over install-tree paths to a named split
// artifact. Rules are matched in declaration order, first match wins.
type ProductRule struct {
	Artifact string   `yaml:"artifact"`
	Include  []string `yaml:"include"`
}

// Morphology is implemented by all four record kinds, giving explicit typed
// access instead of dynamic attribute lookup on a generic map.
type Morphology interface {
	Kind() Kind
	MorphName() string
}

// Chunk is a single source project built by running its declared phases.
type Chunk struct {
	Name        string                   `yaml:"name"`
	BuildSystem string                   `yaml:"build-system"`
	Commands    map[Phase][]string       `yaml:"-"`
	RawCommands map[string][]string      `yaml:"-"`
	Products    []ProductRule            `yaml:"products"`
	MaxJobs     int                      `yaml:"max-jobs"`
}

func (c *Chunk) Kind() Kind        { return KindChunk }
func (c *Chunk) MorphName() string { return c.Name }

// ChunkSpec is a stratum's reference to one chunk: where to fetch it from,
// how it should be built, and how it relates to its stratum siblings.
type ChunkSpec struct {
	Name          string    `yaml:"name"`
	Repo          string    `yaml:"repo"`
	Ref           string    `yaml:"ref"`
	Morph         string    `yaml:"morph"`
	BuildDepends  []string  `yaml:"build-depends"`
	BuildMode     BuildMode `yaml:"build-mode"`
	Prefix        string    `yaml:"prefix"`
}

// Stratum is a named collection of chunks with build ordering among them.
type Stratum struct {
	Name         string        `yaml:"name"`
	BuildDepends []string      `yaml:"build-depends"`
	Chunks       []ChunkSpec   `yaml:"chunks"`
	Products     []ProductRule `yaml:"products"`
}

func (s *Stratum) Kind() Kind        { return KindStratum }
func (s *Stratum) MorphName() string { return s.Name }

// StratumRef is a system's reference to one of its strata, with an optional
// subset of the artifacts it exposes to the system.
type StratumRef struct {
	Name      string   `yaml:"name"`
	Morph     string   `yaml:"morph"`
	Artifacts []string `yaml:"artifacts"`
}

// System assembles strata into a bootable root filesystem.
type System struct {
	Name                   string       `yaml:"name"`
	Arch                   string       `yaml:"arch"`
	Strata                 []StratumRef `yaml:"strata"`
	ConfigurationExtensions []string    `yaml:"configuration-extensions"`
}

func (s *System) Kind() Kind        { return KindSystem }
func (s *System) MorphName() string { return s.Name }

// Cluster names deployment targets. It is parsed for completeness but is not
// part of the build core (spec.md places it out of the build-engine scope).
type Cluster struct {
	Name    string   `yaml:"name"`
	Systems []string `yaml:"systems"`
}

func (c *Cluster) Kind() Kind        { return KindCluster }
func (c *Cluster) MorphName() string { return c.Name }

// KnownBuildSystems lists the build-system names the loader accepts for
// chunks; anything else is an InvalidMorphology validation failure.
var KnownBuildSystems = map[string]bool{
	"manual":           true,
	"autotools":        true,
	"cmake":            true,
	"python-distutils": true,
	"qmake":            true,
	"make":             true,
}
