// Package signing defines interfaces for signing and verifying artifact
// cache-key digests (spec.md 4.7), adapted from a container-image signing
// design down to Morph's flat content-addressed artifacts: there is no
// registry, so a "subject" is always a cache key rather than an image
// reference, and a signature attaches to the artifact's meta sidecar.
package signing

import (
	"context"
	"crypto"
	"time"
)

// Signer provides the main interface for signing artifact digests.
type Signer interface {
	// SignArtifact signs the given artifact's cache key under keyRef.
	SignArtifact(ctx context.Context, req *SignRequest) (*SignResult, error)

	// SignBlob signs arbitrary blob data (used to sign a system artifact's
	// cache key plus its meta sidecar).
	SignBlob(ctx context.Context, data []byte, opts *SignOptions) (*Signature, error)

	// GenerateKeyPair generates a new signing key pair.
	GenerateKeyPair(ctx context.Context, opts *KeyGenOptions) (*KeyPair, error)

	// GetPublicKey returns the public key for verification.
	GetPublicKey(ctx context.Context, keyRef string) (crypto.PublicKey, error)
}

// Verifier provides the interface for verifying artifact signatures.
type Verifier interface {
	// VerifyArtifact verifies a signature over an artifact's cache key.
	VerifyArtifact(ctx context.Context, req *VerifyRequest) (*VerifyResult, error)

	// VerifyBlob verifies a blob signature.
	VerifyBlob(ctx context.Context, data []byte, sig *Signature, key crypto.PublicKey) error

	// VerifyAttestation verifies an in-toto-shaped SBOM attestation.
	VerifyAttestation(ctx context.Context, attestation *Attestation, key crypto.PublicKey) (*AttestationResult, error)
}

// KeyProvider provides access to signing keys from various sources.
type KeyProvider interface {
	GetPrivateKey(ctx context.Context, keyRef string) (crypto.PrivateKey, error)
	GetPublicKey(ctx context.Context, keyRef string) (crypto.PublicKey, error)
	ListKeys(ctx context.Context) ([]*KeyInfo, error)
	StoreKey(ctx context.Context, keyRef string, key crypto.PrivateKey) error
	DeleteKey(ctx context.Context, keyRef string) error
}

// AttestationGenerator creates in-toto-shaped attestations binding an SBOM
// to the artifact cache key it describes.
type AttestationGenerator interface {
	GenerateAttestation(ctx context.Context, req *AttestationRequest) (*Attestation, error)
}

// SignRequest represents a request to sign an artifact.
type SignRequest struct {
	// CacheKey is the artifact's content-addressed cache key.
	CacheKey string `json:"cache_key"`

	// KeyRef is the reference to the signing key.
	KeyRef string `json:"key_ref,omitempty"`

	// Options contains signing options.
	Options *SignOptions `json:"options,omitempty"`

	// Annotations contains arbitrary annotations to include.
	Annotations map[string]string `json:"annotations,omitempty"`
}

// SignOptions contains options for signing operations.
type SignOptions struct {
	KeyRef    string           `json:"key_ref,omitempty"`
	KeyType   KeyType          `json:"key_type,omitempty"`
	Algorithm SigningAlgorithm `json:"algorithm,omitempty"`
}

// SignResult contains the result of a signing operation.
type SignResult struct {
	CacheKey  string     `json:"cache_key"`
	Signature *Signature `json:"signature"`
}

// VerifyRequest represents a request to verify a signature.
type VerifyRequest struct {
	CacheKey  string          `json:"cache_key"`
	KeyRef    string          `json:"key_ref,omitempty"`
	PublicKey crypto.PublicKey `json:"-"`
	Signature *Signature      `json:"signature"`
}

// VerifyResult contains the result of a verification operation.
type VerifyResult struct {
	Verified bool     `json:"verified"`
	Errors   []string `json:"errors,omitempty"`
}

// Signature represents a digital signature over a cache key or blob.
type Signature struct {
	KeyID       string            `json:"key_id,omitempty"`
	Algorithm   SigningAlgorithm  `json:"algorithm"`
	Signature   []byte            `json:"signature"`
	Payload     []byte            `json:"payload,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// KeyType represents the type of cryptographic key.
type KeyType string

const (
	KeyTypeECDSA   KeyType = "ecdsa"
	KeyTypeEd25519 KeyType = "ed25519"
)

// SigningAlgorithm represents a signing algorithm.
type SigningAlgorithm string

const (
	AlgorithmECDSAP256 SigningAlgorithm = "ecdsa-p256"
	AlgorithmEd25519   SigningAlgorithm = "ed25519"
)

// KeyPair represents a cryptographic key pair.
type KeyPair struct {
	PrivateKey crypto.PrivateKey `json:"-"`
	PublicKey  crypto.PublicKey  `json:"-"`
	KeyID      string            `json:"key_id"`
	KeyType    KeyType           `json:"key_type"`
	Algorithm  SigningAlgorithm  `json:"algorithm"`
	CreatedAt  time.Time         `json:"created_at"`
}

// KeyInfo provides information about a key.
type KeyInfo struct {
	KeyID     string           `json:"key_id"`
	KeyType   KeyType          `json:"key_type"`
	Algorithm SigningAlgorithm `json:"algorithm"`
	CreatedAt time.Time        `json:"created_at"`
}

// KeyGenOptions contains options for key generation.
type KeyGenOptions struct {
	KeyType     KeyType `json:"key_type"`
	Description string  `json:"description,omitempty"`
}

// AttestationRequest represents a request to generate an attestation.
type AttestationRequest struct {
	// Subject is the artifact cache key the attestation describes.
	Subject       string      `json:"subject"`
	PredicateType string      `json:"predicate_type"`
	Predicate     interface{} `json:"predicate"`
	KeyRef        string      `json:"key_ref,omitempty"`
}

// Attestation represents an in-toto-shaped attestation binding a predicate
// (e.g. an SBOM) to an artifact cache key.
type Attestation struct {
	Type          string                 `json:"_type"`
	Subject       []*AttestationSubject  `json:"subject"`
	PredicateType string                 `json:"predicateType"`
	Predicate     interface{}            `json:"predicate"`
	Signature     *Signature             `json:"signature,omitempty"`
}

// AttestationSubject identifies one artifact by cache key.
type AttestationSubject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

// AttestationResult contains the result of an attestation verification.
type AttestationResult struct {
	Verified      bool        `json:"verified"`
	PredicateType string      `json:"predicate_type"`
	Predicate     interface{} `json:"predicate"`
	Errors        []string    `json:"errors,omitempty"`
}

// PredicateTypes names the predicate type URIs this package recognizes.
var PredicateTypes = struct {
	SBOM       string
	Provenance string
}{
	SBOM:       "https://spdx.dev/Document",
	Provenance: "https://in-toto.io/Statement/v0.1",
}
