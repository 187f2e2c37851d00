// Package signing signs and verifies artifact cache-key digests with a
// local ECDSA or Ed25519 key pair, in the shape of a Sigstore/Cosign
// signer stripped of the registry, Fulcio, and Rekor machinery that
// has no referent once signatures attach to cache-local artifacts
// instead of container images.
package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CosignSigner implements Signer with local ECDSA/Ed25519 keys.
type CosignSigner struct {
	keyProvider KeyProvider
}

// FileKeyProvider implements KeyProvider using PEM files on disk.
type FileKeyProvider struct {
	keyDir string
}

// NewCosignSigner creates a new local signer over keyProvider.
func NewCosignSigner(keyProvider KeyProvider) *CosignSigner {
	return &CosignSigner{keyProvider: keyProvider}
}

// NewFileKeyProvider creates a new file-based key provider rooted at keyDir.
func NewFileKeyProvider(keyDir string) *FileKeyProvider {
	return &FileKeyProvider{keyDir: keyDir}
}

// SignArtifact signs the sha256 digest of req.CacheKey with the key under
// req.KeyRef.
func (s *CosignSigner) SignArtifact(ctx context.Context, req *SignRequest) (*SignResult, error) {
	if req == nil {
		return nil, fmt.Errorf("sign request cannot be nil")
	}
	if req.CacheKey == "" {
		return nil, fmt.Errorf("cache key cannot be empty")
	}

	opts := &SignOptions{KeyRef: req.KeyRef}
	sig, err := s.SignBlob(ctx, []byte(req.CacheKey), opts)
	if err != nil {
		return nil, err
	}
	sig.Annotations = req.Annotations

	return &SignResult{CacheKey: req.CacheKey, Signature: sig}, nil
}

// SignBlob signs the sha256 digest of data with the key under opts.KeyRef.
func (s *CosignSigner) SignBlob(ctx context.Context, data []byte, opts *SignOptions) (*Signature, error) {
	if opts == nil || opts.KeyRef == "" {
		return nil, fmt.Errorf("key reference cannot be empty")
	}

	privateKey, err := s.keyProvider.GetPrivateKey(ctx, opts.KeyRef)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get private key")
	}

	digest := sha256.Sum256(data)

	var sigBytes []byte
	switch key := privateKey.(type) {
	case *ecdsa.PrivateKey:
		sigBytes, err = ecdsa.SignASN1(rand.Reader, key, digest[:])
	case ed25519.PrivateKey:
		sigBytes = ed25519.Sign(key, digest[:])
	default:
		return nil, fmt.Errorf("unsupported private key type")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign digest")
	}

	return &Signature{
		KeyID:     opts.KeyRef,
		Algorithm: algorithmFor(privateKey),
		Signature: sigBytes,
		Payload:   data,
	}, nil
}

// GenerateKeyPair generates a new ECDSA P-256 or Ed25519 key pair and
// stores it under a fresh key ID.
func (s *CosignSigner) GenerateKeyPair(ctx context.Context, opts *KeyGenOptions) (*KeyPair, error) {
	if opts == nil {
		return nil, fmt.Errorf("key generation options cannot be nil")
	}

	var privateKey crypto.PrivateKey
	var err error
	switch opts.KeyType {
	case KeyTypeEd25519:
		_, privateKey, err = ed25519.GenerateKey(rand.Reader)
	case KeyTypeECDSA, "":
		privateKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported key type: %s", opts.KeyType)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key pair")
	}

	publicKey, err := publicKeyFor(privateKey)
	if err != nil {
		return nil, err
	}

	keyID := uuid.New().String()
	keyPair := &KeyPair{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		KeyID:      keyID,
		KeyType:    keyTypeFor(privateKey),
		Algorithm:  algorithmFor(privateKey),
		CreatedAt:  time.Now(),
	}

	if err := s.keyProvider.StoreKey(ctx, keyID, privateKey); err != nil {
		return nil, errors.Wrap(err, "failed to store key pair")
	}

	return keyPair, nil
}

// GetPublicKey returns the public key for verification.
func (s *CosignSigner) GetPublicKey(ctx context.Context, keyRef string) (crypto.PublicKey, error) {
	return s.keyProvider.GetPublicKey(ctx, keyRef)
}

// CosignVerifier implements Verifier against local ECDSA/Ed25519 keys.
type CosignVerifier struct {
	keyProvider KeyProvider
}

// NewCosignVerifier creates a new local verifier over keyProvider.
func NewCosignVerifier(keyProvider KeyProvider) *CosignVerifier {
	return &CosignVerifier{keyProvider: keyProvider}
}

// VerifyArtifact verifies req.Signature over req.CacheKey.
func (v *CosignVerifier) VerifyArtifact(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
	if req == nil || req.Signature == nil {
		return nil, fmt.Errorf("verify request and signature cannot be nil")
	}

	publicKey := req.PublicKey
	if publicKey == nil {
		if req.KeyRef == "" {
			return nil, fmt.Errorf("either public key or key reference must be provided")
		}
		pub, err := v.keyProvider.GetPublicKey(ctx, req.KeyRef)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get public key")
		}
		publicKey = pub
	}

	if err := v.VerifyBlob(ctx, []byte(req.CacheKey), req.Signature, publicKey); err != nil {
		return &VerifyResult{Verified: false, Errors: []string{err.Error()}}, nil
	}
	return &VerifyResult{Verified: true}, nil
}

// VerifyBlob verifies sig was produced over sha256(data) by key.
func (v *CosignVerifier) VerifyBlob(ctx context.Context, data []byte, sig *Signature, key crypto.PublicKey) error {
	if sig == nil {
		return fmt.Errorf("signature cannot be nil")
	}
	if key == nil {
		return fmt.Errorf("public key cannot be nil")
	}
	if len(sig.Signature) == 0 {
		return fmt.Errorf("empty signature")
	}

	digest := sha256.Sum256(data)

	switch pub := key.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest[:], sig.Signature) {
			return fmt.Errorf("ecdsa signature verification failed")
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, digest[:], sig.Signature) {
			return fmt.Errorf("ed25519 signature verification failed")
		}
	default:
		return fmt.Errorf("unsupported public key type")
	}

	return nil
}

// VerifyAttestation verifies the attestation's signature over its subject
// digests using key.
func (v *CosignVerifier) VerifyAttestation(ctx context.Context, attestation *Attestation, key crypto.PublicKey) (*AttestationResult, error) {
	if attestation == nil {
		return nil, fmt.Errorf("attestation cannot be nil")
	}
	if attestation.Signature == nil {
		return &AttestationResult{Verified: false, Errors: []string{"attestation has no signature"}}, nil
	}

	if err := v.VerifyBlob(ctx, attestationPayload(attestation), attestation.Signature, key); err != nil {
		return &AttestationResult{Verified: false, Errors: []string{err.Error()}}, nil
	}

	return &AttestationResult{
		Verified:      true,
		PredicateType: attestation.PredicateType,
		Predicate:     attestation.Predicate,
	}, nil
}

func attestationPayload(a *Attestation) []byte {
	var sb strings.Builder
	sb.WriteString(a.PredicateType)
	for _, s := range a.Subject {
		sb.WriteString(s.Name)
		sb.WriteString(s.Digest["sha256"])
	}
	return []byte(sb.String())
}

func algorithmFor(key crypto.PrivateKey) SigningAlgorithm {
	switch key.(type) {
	case *ecdsa.PrivateKey:
		return AlgorithmECDSAP256
	case ed25519.PrivateKey:
		return AlgorithmEd25519
	default:
		return ""
	}
}

func keyTypeFor(key crypto.PrivateKey) KeyType {
	switch key.(type) {
	case *ecdsa.PrivateKey:
		return KeyTypeECDSA
	case ed25519.PrivateKey:
		return KeyTypeEd25519
	default:
		return ""
	}
}

func publicKeyFor(key crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case ed25519.PrivateKey:
		return k.Public(), nil
	default:
		return nil, fmt.Errorf("unsupported private key type")
	}
}

// File-based key provider implementation.

// GetPrivateKey retrieves a private key from file.
func (p *FileKeyProvider) GetPrivateKey(ctx context.Context, keyRef string) (crypto.PrivateKey, error) {
	if keyRef == "" {
		return nil, fmt.Errorf("key reference cannot be empty")
	}

	keyPath := filepath.Join(p.keyDir, keyRef+".key")
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read key file: %s", keyPath)
	}

	return p.parsePrivateKey(keyData)
}

// GetPublicKey retrieves a public key, preferring the matching private key
// on disk and falling back to a standalone .pub file.
func (p *FileKeyProvider) GetPublicKey(ctx context.Context, keyRef string) (crypto.PublicKey, error) {
	if privateKey, err := p.GetPrivateKey(ctx, keyRef); err == nil {
		return publicKeyFor(privateKey)
	}

	pubKeyPath := filepath.Join(p.keyDir, keyRef+".pub")
	keyData, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find public key for: %s", keyRef)
	}
	return p.parsePublicKey(keyData)
}

// ListKeys lists available keys.
func (p *FileKeyProvider) ListKeys(ctx context.Context) ([]*KeyInfo, error) {
	if _, err := os.Stat(p.keyDir); os.IsNotExist(err) {
		return []*KeyInfo{}, nil
	}

	entries, err := os.ReadDir(p.keyDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key directory")
	}

	var keys []*KeyInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".key") {
			continue
		}
		keyRef := strings.TrimSuffix(entry.Name(), ".key")
		privateKey, err := p.GetPrivateKey(ctx, keyRef)
		if err != nil {
			continue
		}
		info := &KeyInfo{KeyID: keyRef, KeyType: keyTypeFor(privateKey), Algorithm: algorithmFor(privateKey)}
		if fi, err := entry.Info(); err == nil {
			info.CreatedAt = fi.ModTime()
		}
		keys = append(keys, info)
	}
	return keys, nil
}

// StoreKey stores a private key (and its derived public key) to file.
func (p *FileKeyProvider) StoreKey(ctx context.Context, keyRef string, key crypto.PrivateKey) error {
	if keyRef == "" {
		return fmt.Errorf("key reference cannot be empty")
	}
	if err := os.MkdirAll(p.keyDir, 0o700); err != nil {
		return errors.Wrap(err, "failed to create key directory")
	}

	keyData, err := p.marshalPrivateKey(key)
	if err != nil {
		return errors.Wrap(err, "failed to marshal private key")
	}
	if err := os.WriteFile(filepath.Join(p.keyDir, keyRef+".key"), keyData, 0o600); err != nil {
		return errors.Wrap(err, "failed to write key file")
	}

	publicKey, err := publicKeyFor(key)
	if err != nil {
		return err
	}
	pubKeyData, err := p.marshalPublicKey(publicKey)
	if err != nil {
		return errors.Wrap(err, "failed to marshal public key")
	}
	if err := os.WriteFile(filepath.Join(p.keyDir, keyRef+".pub"), pubKeyData, 0o644); err != nil {
		return errors.Wrap(err, "failed to write public key file")
	}

	return nil
}

// DeleteKey deletes a key's private and public files.
func (p *FileKeyProvider) DeleteKey(ctx context.Context, keyRef string) error {
	if keyRef == "" {
		return fmt.Errorf("key reference cannot be empty")
	}
	if err := os.Remove(filepath.Join(p.keyDir, keyRef+".key")); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove private key file")
	}
	if err := os.Remove(filepath.Join(p.keyDir, keyRef+".pub")); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove public key file")
	}
	return nil
}

func (p *FileKeyProvider) parsePrivateKey(data []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	switch block.Type {
	case "PRIVATE KEY":
		return x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported private key type: %s", block.Type)
	}
}

func (p *FileKeyProvider) parsePublicKey(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unsupported public key type: %s", block.Type)
	}
	return x509.ParsePKIXPublicKey(block.Bytes)
}

func (p *FileKeyProvider) marshalPrivateKey(key crypto.PrivateKey) ([]byte, error) {
	var keyBytes []byte
	var keyType string
	var err error

	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err = x509.MarshalECPrivateKey(k)
		keyType = "EC PRIVATE KEY"
	case ed25519.PrivateKey:
		keyBytes, err = x509.MarshalPKCS8PrivateKey(k)
		keyType = "PRIVATE KEY"
	default:
		return nil, fmt.Errorf("unsupported private key type")
	}
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: keyBytes}), nil
}

func (p *FileKeyProvider) marshalPublicKey(key crypto.PublicKey) ([]byte, error) {
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: keyBytes}), nil
}
