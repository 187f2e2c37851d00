// Package sbom generates Software Bills of Materials for built system
// artifacts using Anchore Syft, scanning the unpacked rootfs directly
// rather than a container image.
package sbom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/anchore/syft/syft"
	"github.com/anchore/syft/syft/artifact"
	"github.com/anchore/syft/syft/cataloging"
	"github.com/anchore/syft/syft/sbom"
	"github.com/anchore/syft/syft/source"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SyftGenerator implements Generator using Anchore Syft's directory source.
type SyftGenerator struct {
	configuration map[string]interface{}
}

// NewSyftGenerator creates a new Syft-based SBOM generator.
func NewSyftGenerator() *SyftGenerator {
	return &SyftGenerator{configuration: make(map[string]interface{})}
}

// GenerateForRootfs scans an unpacked system artifact's rootfs and produces
// an SBOM attributed to its cache key.
func (g *SyftGenerator) GenerateForRootfs(ctx context.Context, rootfsPath, cacheKey string, opts *GenerateOptions) (*SBOM, error) {
	if rootfsPath == "" {
		return nil, fmt.Errorf("rootfs path cannot be empty")
	}
	if cacheKey == "" {
		return nil, fmt.Errorf("cache key cannot be empty")
	}

	src, err := source.NewFromDirectory(source.DirectoryConfig{Path: rootfsPath})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create source from rootfs")
	}

	catalogConfig := cataloging.DefaultConfig()
	if opts != nil && len(opts.ScannerTypes) > 0 {
		catalogConfig.Catalogers = g.convertScannerTypes(opts.ScannerTypes)
	}

	syftSBOM := syft.CreateSBOM(ctx, src, catalogConfig)
	if syftSBOM == nil {
		return nil, fmt.Errorf("failed to create SBOM for rootfs %s", rootfsPath)
	}

	return g.convertSyftSBOM(syftSBOM, cacheKey, opts)
}

// Merge combines multiple SBOMs into one, used when a cluster bundles
// several systems' artifacts into a single release.
func (g *SyftGenerator) Merge(ctx context.Context, sboms []*SBOM) (*SBOM, error) {
	if len(sboms) == 0 {
		return nil, fmt.Errorf("no SBOMs provided for merging")
	}
	if len(sboms) == 1 {
		return sboms[0], nil
	}

	merged := &SBOM{
		Metadata: &Metadata{
			ID:        uuid.New().String(),
			Name:      "merged-sbom",
			Version:   "1.0.0",
			Format:    FormatSPDXJSON,
			Timestamp: time.Now(),
			Generator: &GeneratorInfo{Name: "morph-syft", Version: "1.0.0"},
			Subject:   &Subject{Type: "merged", Name: "merged-components"},
		},
	}

	seen := make(map[string]bool)
	for _, s := range sboms {
		for _, pkg := range s.Packages {
			if !seen[pkg.ID] {
				seen[pkg.ID] = true
				merged.Packages = append(merged.Packages, pkg)
			}
		}
		merged.Files = append(merged.Files, s.Files...)
		merged.Relationships = append(merged.Relationships, s.Relationships...)
	}
	return merged, nil
}

func (g *SyftGenerator) convertScannerTypes(scannerTypes []PackageType) []string {
	catalogers := make([]string, 0, len(scannerTypes))
	for _, scannerType := range scannerTypes {
		switch scannerType {
		case PackageTypeApk:
			catalogers = append(catalogers, "apk")
		case PackageTypeDeb:
			catalogers = append(catalogers, "dpkg")
		case PackageTypeRpm:
			catalogers = append(catalogers, "rpm")
		case PackageTypeNPM:
			catalogers = append(catalogers, "npm")
		case PackageTypePyPI:
			catalogers = append(catalogers, "python")
		case PackageTypeGem:
			catalogers = append(catalogers, "gem")
		case PackageTypeGo:
			catalogers = append(catalogers, "go")
		case PackageTypeCargo:
			catalogers = append(catalogers, "rust")
		case PackageTypeMaven:
			catalogers = append(catalogers, "java")
		}
	}
	return catalogers
}

func (g *SyftGenerator) convertSyftSBOM(syftSBOM *sbom.SBOM, cacheKey string, opts *GenerateOptions) (*SBOM, error) {
	sbomID := uuid.New().String()

	packages := make([]*Package, 0, len(syftSBOM.Artifacts.Packages.Sorted()))
	for _, syftPkg := range syftSBOM.Artifacts.Packages.Sorted() {
		packages = append(packages, g.convertSyftPackage(syftPkg))
	}

	var files []*File
	if opts != nil && opts.IncludeFiles {
		files = g.convertSyftFiles(syftSBOM.Artifacts.FileMetadata)
	}

	relationships := g.createRelationships(syftSBOM, sbomID)

	format := FormatSPDXJSON
	if opts != nil && opts.Format != "" {
		format = opts.Format
	}

	result := &SBOM{
		Metadata: &Metadata{
			ID:        sbomID,
			Name:      fmt.Sprintf("sbom-%s", strings.TrimPrefix(cacheKey, "sha256:")),
			Version:   "1.0.0",
			Format:    format,
			Timestamp: time.Now(),
			Generator: &GeneratorInfo{Name: "morph-syft", Version: "1.0.0", Configuration: g.configuration},
			Subject:   &Subject{Type: "system-artifact", CacheKey: cacheKey},
		},
		Packages:      packages,
		Files:         files,
		Relationships: relationships,
	}
	return result, nil
}

func (g *SyftGenerator) convertSyftPackage(syftPkg artifact.Package) *Package {
	pkg := &Package{
		ID:          syftPkg.ID(),
		Name:        syftPkg.Name,
		Version:     syftPkg.Version,
		Type:        g.convertSyftPackageType(syftPkg.Type),
		Description: syftPkg.Description,
		PURL:        syftPkg.PURL,
		Metadata:    make(map[string]interface{}),
	}

	if len(syftPkg.Licenses.ToSlice()) > 0 {
		pkg.Licenses = make([]*License, 0, len(syftPkg.Licenses.ToSlice()))
		for _, license := range syftPkg.Licenses.ToSlice() {
			pkg.Licenses = append(pkg.Licenses, &License{ID: license.Value, Name: license.Value})
		}
	}

	if len(syftPkg.Locations.ToSlice()) > 0 {
		locations := make([]string, 0, len(syftPkg.Locations.ToSlice()))
		for _, loc := range syftPkg.Locations.ToSlice() {
			locations = append(locations, loc.RealPath)
		}
		pkg.Metadata["locations"] = locations
	}

	return pkg
}

func (g *SyftGenerator) convertSyftPackageType(syftType artifact.Type) PackageType {
	switch syftType {
	case artifact.ApkPkg:
		return PackageTypeApk
	case artifact.DebPkg:
		return PackageTypeDeb
	case artifact.RpmPkg:
		return PackageTypeRpm
	case artifact.NpmPkg:
		return PackageTypeNPM
	case artifact.PythonPkg:
		return PackageTypePyPI
	case artifact.GemPkg:
		return PackageTypeGem
	case artifact.GoModulePkg:
		return PackageTypeGo
	case artifact.RustPkg:
		return PackageTypeCargo
	case artifact.JavaPkg:
		return PackageTypeMaven
	default:
		return PackageTypeUnknown
	}
}

func (g *SyftGenerator) convertSyftFiles(fileMetadata map[source.Coordinates]source.FileMetadata) []*File {
	files := make([]*File, 0, len(fileMetadata))
	for coords, metadata := range fileMetadata {
		file := &File{
			ID:           fmt.Sprintf("file-%s", coords.RealPath),
			Path:         coords.RealPath,
			Size:         metadata.Size(),
			MimeType:     metadata.MIMEType,
			IsExecutable: metadata.IsExecutable(),
			Metadata:     make(map[string]interface{}),
		}
		if len(metadata.Digests) > 0 {
			file.Checksums = make([]*Checksum, 0, len(metadata.Digests))
			for _, digest := range metadata.Digests {
				file.Checksums = append(file.Checksums, &Checksum{Algorithm: digest.Algorithm, Value: digest.Value})
			}
		}
		files = append(files, file)
	}
	return files
}

func (g *SyftGenerator) createRelationships(syftSBOM *sbom.SBOM, sbomID string) []*Relationship {
	relationships := make([]*Relationship, 0)
	for _, syftPkg := range syftSBOM.Artifacts.Packages.Sorted() {
		relationships = append(relationships, &Relationship{
			Subject: sbomID,
			Type:    RelationshipDescribes,
			Object:  syftPkg.ID(),
			Comment: "SBOM describes package",
		})
	}
	for _, rel := range syftSBOM.Relationships {
		relType := g.convertSyftRelationshipType(rel.Type)
		if relType != "" {
			relationships = append(relationships, &Relationship{
				Subject: string(rel.From.ID()),
				Type:    RelationshipType(relType),
				Object:  string(rel.To.ID()),
			})
		}
	}
	return relationships
}

func (g *SyftGenerator) convertSyftRelationshipType(syftType artifact.RelationshipType) string {
	switch syftType {
	case artifact.ContainsRelationship:
		return string(RelationshipContains)
	case artifact.DependencyOfRelationship:
		return string(RelationshipDependsOn)
	default:
		return ""
	}
}

// SyftSerializer implements Serializer with a JSON rendering shared across
// all three SPDX/CycloneDX/Syft formats; format-specific encoders are a
// later addition once a downstream consumer needs the exact schema.
type SyftSerializer struct{}

// NewSyftSerializer creates a new Syft-based serializer.
func NewSyftSerializer() *SyftSerializer {
	return &SyftSerializer{}
}

// Serialize converts an SBOM to the specified format.
func (s *SyftSerializer) Serialize(sbomData *SBOM, format Format) ([]byte, error) {
	if sbomData == nil {
		return nil, fmt.Errorf("SBOM cannot be nil")
	}
	switch format {
	case FormatSPDXJSON, FormatCycloneDXJSON, FormatSYFTJSON:
		return json.MarshalIndent(sbomData, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// SerializeToWriter writes an SBOM to a writer in the specified format.
func (s *SyftSerializer) SerializeToWriter(sbomData *SBOM, format Format, writer io.Writer) error {
	data, err := s.Serialize(sbomData, format)
	if err != nil {
		return err
	}
	_, err = writer.Write(data)
	return err
}

// Deserialize converts serialized data back to an SBOM.
func (s *SyftSerializer) Deserialize(data []byte, format Format) (*SBOM, error) {
	switch format {
	case FormatSPDXJSON, FormatCycloneDXJSON, FormatSYFTJSON:
		var sbomData SBOM
		if err := json.Unmarshal(data, &sbomData); err != nil {
			return nil, errors.Wrap(err, "failed to deserialize SBOM")
		}
		return &sbomData, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// GetSupportedFormats returns the formats this serializer supports.
func (s *SyftSerializer) GetSupportedFormats() []Format {
	return []Format{FormatSPDXJSON, FormatCycloneDXJSON, FormatSYFTJSON}
}
