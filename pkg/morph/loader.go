package morph

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/baserock/morph/internal/morpherrors"
)

// topLevelKeysByKind lists, per morphology kind, the top-level keys Load
// accepts; any other key is rejected.
var topLevelKeysByKind = map[Kind]map[string]bool{
	KindChunk: {
		"name": true, "kind": true, "build-system": true,
		"pre-configure-commands": true, "configure-commands": true, "post-configure-commands": true,
		"pre-build-commands": true, "build-commands": true, "post-build-commands": true,
		"pre-install-commands": true, "install-commands": true, "post-install-commands": true,
		"products": true, "max-jobs": true,
	},
	KindStratum: {
		"name": true, "kind": true, "build-depends": true, "chunks": true, "products": true,
	},
	KindSystem: {
		"name": true, "kind": true, "arch": true, "strata": true, "configuration-extensions": true,
	},
	KindCluster: {
		"name": true, "kind": true, "systems": true,
	},
}

var phaseKeyToPhase = map[string]Phase{
	"pre-configure-commands":  PhasePreConfigure,
	"configure-commands":      PhaseConfigure,
	"post-configure-commands": PhasePostConfigure,
	"pre-build-commands":      PhasePreBuild,
	"build-commands":          PhaseBuild,
	"post-build-commands":     PhasePostBuild,
	"pre-install-commands":    PhasePreInstall,
	"install-commands":        PhaseInstall,
	"post-install-commands":   PhasePostInstall,
}

// Load parses a morphology text blob. kindHint is used when the document
// does not declare its own "kind" key (the common case: the kind is implied
// by where the file is referenced from). filenameStem feeds the default for
// a missing "name" field.
func Load(text []byte, kindHint Kind, filenameStem string) (Morphology, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(text, &raw); err != nil {
		return nil, morpherrors.InvalidMorphology(filenameStem, fmt.Sprintf("parse error: %v", err))
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	kind := kindHint
	if k, ok := raw["kind"].(string); ok && k != "" {
		kind = Kind(k)
	}

	allowed, ok := topLevelKeysByKind[kind]
	if !ok {
		return nil, morpherrors.InvalidMorphology(filenameStem, fmt.Sprintf("unknown morphology kind %q", kind))
	}
	for key := range raw {
		if !allowed[key] {
			return nil, morpherrors.InvalidMorphology(filenameStem, fmt.Sprintf("unknown top-level key %q for kind %q", key, kind))
		}
	}

	name, _ := raw["name"].(string)
	if name == "" {
		name = filenameStem
	}

	switch kind {
	case KindChunk:
		return loadChunk(raw, name, filenameStem)
	case KindStratum:
		return loadStratum(raw, name, filenameStem)
	case KindSystem:
		return loadSystem(raw, name, filenameStem)
	case KindCluster:
		return loadCluster(raw, name), nil
	default:
		return nil, morpherrors.InvalidMorphology(filenameStem, fmt.Sprintf("unsupported kind %q", kind))
	}
}

func loadChunk(raw map[string]interface{}, name, path string) (*Chunk, error) {
	buildSystem, _ := raw["build-system"].(string)
	if buildSystem == "" {
		buildSystem = "manual"
	}
	if !KnownBuildSystems[buildSystem] {
		return nil, morpherrors.InvalidMorphology(path, fmt.Sprintf("unknown build-system %q", buildSystem))
	}

	c := &Chunk{
		Name:        name,
		BuildSystem: buildSystem,
		Commands:    make(map[Phase][]string),
		MaxJobs:     1,
	}

	for key, phase := range phaseKeyToPhase {
		cmds, err := stringList(raw[key])
		if err != nil {
			return nil, morpherrors.InvalidMorphology(path, fmt.Sprintf("%s: %v", key, err))
		}
		if len(cmds) > 0 {
			c.Commands[phase] = cmds
		}
	}

	if mj, ok := raw["max-jobs"]; ok {
		switch v := mj.(type) {
		case int:
			c.MaxJobs = v
		case float64:
			c.MaxJobs = int(v)
		}
	}

	if prods, ok := raw["products"]; ok {
		rules, err := loadProductRules(prods)
		if err != nil {
			return nil, morpherrors.InvalidMorphology(path, err.Error())
		}
		c.Products = rules
	}

	return c, nil
}

func loadStratum(raw map[string]interface{}, name, path string) (*Stratum, error) {
	s := &Stratum{Name: name}

	deps, err := stringList(raw["build-depends"])
	if err != nil {
		return nil, morpherrors.InvalidMorphology(path, err.Error())
	}
	s.BuildDepends = deps

	if chunksRaw, ok := raw["chunks"].([]interface{}); ok {
		for _, cr := range chunksRaw {
			cm, ok := cr.(map[string]interface{})
			if !ok {
				return nil, morpherrors.InvalidMorphology(path, "chunk spec must be a mapping")
			}
			spec, err := loadChunkSpec(cm)
			if err != nil {
				return nil, morpherrors.InvalidMorphology(path, err.Error())
			}
			s.Chunks = append(s.Chunks, spec)
		}
	}

	if prods, ok := raw["products"]; ok {
		rules, err := loadProductRules(prods)
		if err != nil {
			return nil, morpherrors.InvalidMorphology(path, err.Error())
		}
		s.Products = rules
	}

	return s, nil
}

func loadChunkSpec(cm map[string]interface{}) (ChunkSpec, error) {
	spec := ChunkSpec{
		Prefix:    "/usr",
		BuildMode: ModeNormal,
	}
	if v, ok := cm["name"].(string); ok {
		spec.Name = v
	}
	if v, ok := cm["repo"].(string); ok {
		spec.Repo = v
	}
	if v, ok := cm["ref"].(string); ok {
		spec.Ref = v
	}
	if v, ok := cm["morph"].(string); ok {
		spec.Morph = v
	} else {
		spec.Morph = spec.Name
	}
	if v, ok := cm["prefix"].(string); ok && v != "" {
		spec.Prefix = v
	}
	if v, ok := cm["build-mode"].(string); ok && v != "" {
		mode := BuildMode(v)
		switch mode {
		case ModeNormal, ModeTest, ModeBootstrap:
			spec.BuildMode = mode
		default:
			return spec, fmt.Errorf("unknown build-mode %q for chunk %q", v, spec.Name)
		}
	}
	deps, err := stringList(cm["build-depends"])
	if err != nil {
		return spec, err
	}
	spec.BuildDepends = deps

	if spec.Name == "" {
		return spec, fmt.Errorf("chunk spec missing required field \"name\"")
	}
	if spec.Repo == "" {
		return spec, fmt.Errorf("chunk spec %q missing required field \"repo\"", spec.Name)
	}
	if spec.Ref == "" {
		return spec, fmt.Errorf("chunk spec %q missing required field \"ref\"", spec.Name)
	}
	return spec, nil
}

func loadSystem(raw map[string]interface{}, name, path string) (*System, error) {
	s := &System{Name: name, Arch: "x86_64"}
	if v, ok := raw["arch"].(string); ok && v != "" {
		s.Arch = v
	}

	if strataRaw, ok := raw["strata"].([]interface{}); ok {
		for _, sr := range strataRaw {
			sm, ok := sr.(map[string]interface{})
			if !ok {
				return nil, morpherrors.InvalidMorphology(path, "strata entry must be a mapping")
			}
			ref := StratumRef{}
			if v, ok := sm["name"].(string); ok {
				ref.Name = v
			}
			if v, ok := sm["morph"].(string); ok && v != "" {
				ref.Morph = v
			} else {
				ref.Morph = ref.Name
			}
			artifacts, err := stringList(sm["artifacts"])
			if err != nil {
				return nil, morpherrors.InvalidMorphology(path, err.Error())
			}
			ref.Artifacts = artifacts
			if ref.Name == "" {
				return nil, morpherrors.InvalidMorphology(path, "strata entry missing required field \"name\"")
			}
			s.Strata = append(s.Strata, ref)
		}
	}

	exts, err := stringList(raw["configuration-extensions"])
	if err != nil {
		return nil, morpherrors.InvalidMorphology(path, err.Error())
	}
	s.ConfigurationExtensions = exts

	return s, nil
}

func loadCluster(raw map[string]interface{}, name string) *Cluster {
	systems, _ := stringList(raw["systems"])
	return &Cluster{Name: name, Systems: systems}
}

func loadProductRules(v interface{}) ([]ProductRule, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("products must be a list")
	}
	var rules []ProductRule
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("product rule must be a mapping")
		}
		r := ProductRule{}
		if v, ok := m["artifact"].(string); ok {
			r.Artifact = v
		}
		inc, err := stringList(m["include"])
		if err != nil {
			return nil, err
		}
		r.Include = inc
		if r.Artifact == "" {
			return nil, fmt.Errorf("product rule missing required field \"artifact\"")
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func stringList(v interface{}) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list of strings")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string list element")
		}
		out = append(out, s)
	}
	return out, nil
}

// Canonical produces the byte-identical serialised form used as cache-key
// input: map keys sorted, default values already inlined by the loader
// above, so two equivalent morphologies always canonicalise identically.
func Canonical(m Morphology) ([]byte, error) {
	ordered, err := orderedValue(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ordered)
}

// orderedValue converts a Morphology into a value whose map keys marshal in
// sorted order — encoding/json already sorts map[string]interface{} keys,
// so we only need to funnel structs through that representation.
func orderedValue(m Morphology) (interface{}, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return sortedCopy(generic), nil
}

func sortedCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(val))
		for _, k := range keys {
			out[k] = sortedCopy(val[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = sortedCopy(e)
		}
		return out
	default:
		return val
	}
}

// StemName derives the default "name" field from a morphology file path:
// the filename without its extension.
func StemName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
