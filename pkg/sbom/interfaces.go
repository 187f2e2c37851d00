// Package sbom defines interfaces for Software Bill of Materials generation
// against built system-artifact rootfs trees (spec.md 4.4 system artifacts).
package sbom

import (
	"context"
	"io"
	"time"
)

// Generator produces an SBOM for a built system artifact's unpacked rootfs.
type Generator interface {
	// GenerateForRootfs creates an SBOM by scanning an unpacked system
	// artifact tree at rootfsPath, attributed to the given cache key.
	GenerateForRootfs(ctx context.Context, rootfsPath, cacheKey string, opts *GenerateOptions) (*SBOM, error)

	// Merge combines multiple SBOMs into one, used when a cluster assembles
	// several systems' artifacts into one release.
	Merge(ctx context.Context, sboms []*SBOM) (*SBOM, error)
}

// Scanner provides the interface for scanning individual components or files.
type Scanner interface {
	// ScanFile scans a single file for package information
	ScanFile(ctx context.Context, path string) ([]*Package, error)

	// ScanDirectory scans a directory recursively
	ScanDirectory(ctx context.Context, path string, opts *ScanOptions) ([]*Package, error)

	// GetSupportedTypes returns the package types this scanner supports
	GetSupportedTypes() []PackageType

	// GetName returns the scanner name
	GetName() string
}

// Serializer provides interfaces for serializing SBOMs to different formats.
type Serializer interface {
	// Serialize converts an SBOM to the specified format
	Serialize(sbom *SBOM, format Format) ([]byte, error)

	// SerializeToWriter writes an SBOM to a writer in the specified format
	SerializeToWriter(sbom *SBOM, format Format, writer io.Writer) error

	// Deserialize converts serialized data back to an SBOM
	Deserialize(data []byte, format Format) (*SBOM, error)

	// GetSupportedFormats returns the formats this serializer supports
	GetSupportedFormats() []Format
}

// Validator provides validation capabilities for SBOMs.
type Validator interface {
	// Validate checks if an SBOM is valid according to its format specification
	Validate(sbom *SBOM) (*ValidationResult, error)

	// ValidateData validates serialized SBOM data
	ValidateData(data []byte, format Format) (*ValidationResult, error)

	// GetSchema returns the schema for the specified format
	GetSchema(format Format) ([]byte, error)
}

// AttestationGenerator creates signed attestations for SBOMs, handed to
// pkg/signing to bind an SBOM to the artifact's cache key (spec.md 4.7).
type AttestationGenerator interface {
	// GenerateAttestation creates a signed attestation for an SBOM
	GenerateAttestation(ctx context.Context, sbom *SBOM, opts *AttestationOptions) (*Attestation, error)

	// VerifyAttestation verifies an SBOM attestation
	VerifyAttestation(ctx context.Context, attestation *Attestation) (*VerificationResult, error)
}

// GenerateOptions contains options for SBOM generation.
type GenerateOptions struct {
	// Format specifies the output format
	Format Format `json:"format"`

	// IncludeFiles includes file listings in the SBOM
	IncludeFiles bool `json:"include_files,omitempty"`

	// ScannerTypes specifies which scanners to use
	ScannerTypes []PackageType `json:"scanner_types,omitempty"`

	// ExcludePaths contains paths to exclude from scanning
	ExcludePaths []string `json:"exclude_paths,omitempty"`

	// Metadata contains additional metadata to include
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ScanOptions contains options for package scanning.
type ScanOptions struct {
	// Recursive enables recursive directory scanning
	Recursive bool `json:"recursive,omitempty"`

	// FollowSymlinks enables following symbolic links
	FollowSymlinks bool `json:"follow_symlinks,omitempty"`

	// MaxDepth limits scanning depth
	MaxDepth int `json:"max_depth,omitempty"`

	// ExcludePatterns contains file patterns to exclude
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
}

// SBOM represents a Software Bill of Materials for one system artifact.
type SBOM struct {
	Metadata      *Metadata       `json:"metadata"`
	Packages      []*Package      `json:"packages"`
	Files         []*File         `json:"files,omitempty"`
	Relationships []*Relationship `json:"relationships,omitempty"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

// Metadata contains SBOM metadata information.
type Metadata struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Format    Format         `json:"format"`
	Timestamp time.Time      `json:"timestamp"`
	Generator *GeneratorInfo `json:"generator"`
	Subject   *Subject       `json:"subject"`
	Namespace string         `json:"namespace,omitempty"`
}

// GeneratorInfo contains information about the SBOM generator.
type GeneratorInfo struct {
	Name          string                 `json:"name"`
	Version       string                 `json:"version"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// Subject identifies the system artifact that was scanned.
type Subject struct {
	// Type is "system-artifact" for a scanned rootfs and "merged" for the
	// output of Merge.
	Type string `json:"type"`

	// Name is the unit's artifact name (spec.md 3.4 System.Name).
	Name string `json:"name"`

	// CacheKey is the artifact's content-addressed cache key.
	CacheKey string `json:"cache_key"`

	Size     int64                  `json:"size,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Package represents a discovered software package.
type Package struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Type         PackageType            `json:"type"`
	PURL         string                 `json:"purl,omitempty"`
	CPE          string                 `json:"cpe,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Licenses     []*License             `json:"licenses,omitempty"`
	Files        []*File                `json:"files,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// PackageType represents the type of package.
type PackageType string

const (
	PackageTypeUnknown PackageType = "unknown"
	PackageTypeApk     PackageType = "apk"
	PackageTypeDeb     PackageType = "deb"
	PackageTypeRpm     PackageType = "rpm"
	PackageTypeNPM     PackageType = "npm"
	PackageTypePyPI    PackageType = "pypi"
	PackageTypeGem     PackageType = "gem"
	PackageTypeGo      PackageType = "go"
	PackageTypeCargo   PackageType = "cargo"
	PackageTypeMaven   PackageType = "maven"
)

// License contains license information.
type License struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// File represents a file in the SBOM.
type File struct {
	ID           string                 `json:"id"`
	Path         string                 `json:"path"`
	Size         int64                  `json:"size"`
	Checksums    []*Checksum            `json:"checksums,omitempty"`
	MimeType     string                 `json:"mime_type,omitempty"`
	IsExecutable bool                   `json:"is_executable,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Checksum represents a file checksum.
type Checksum struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// Relationship describes a relationship between SBOM components.
type Relationship struct {
	Subject string           `json:"subject"`
	Type    RelationshipType `json:"type"`
	Object  string           `json:"object"`
	Comment string           `json:"comment,omitempty"`
}

// RelationshipType represents the type of relationship.
type RelationshipType string

const (
	RelationshipContains  RelationshipType = "contains"
	RelationshipDependsOn RelationshipType = "depends_on"
	RelationshipDescribes RelationshipType = "describes"
)

// Format represents an SBOM format.
type Format string

const (
	FormatSPDXJSON      Format = "spdx-json"
	FormatCycloneDXJSON Format = "cyclonedx-json"
	FormatSYFTJSON      Format = "syft-json"
)

// ValidationResult contains SBOM validation results.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Schema   string   `json:"schema,omitempty"`
}

// AttestationOptions contains options for attestation generation.
type AttestationOptions struct {
	KeyPath       string `json:"key_path,omitempty"`
	KeyID         string `json:"key_id,omitempty"`
	Subject       string `json:"subject,omitempty"`
	PredicateType string `json:"predicate_type,omitempty"`
}

// Attestation represents an SBOM attestation.
type Attestation struct {
	Format      string                 `json:"format"`
	Data        []byte                 `json:"data"`
	Signature   []byte                 `json:"signature"`
	Certificate []byte                 `json:"certificate,omitempty"`
	Bundle      map[string]interface{} `json:"bundle,omitempty"`
}

// VerificationResult contains attestation verification results.
type VerificationResult struct {
	Verified  bool       `json:"verified"`
	Signer    string     `json:"signer,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Errors    []string   `json:"errors,omitempty"`
}
