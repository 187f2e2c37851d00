package build

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/baserock/morph/pkg/cache"
	"github.com/baserock/morph/pkg/graph"
	"github.com/baserock/morph/pkg/sbom"
	"github.com/baserock/morph/pkg/signing"
)

// attestationKeyRef names the local Ed25519 signing key every system
// attestation is produced under; generated on first use and persisted
// alongside the cache.
const attestationKeyRef = "morph-system-attestation"

// attestSystem scans rootfsDir with Syft, writing the SBOM as <key>.sbom.json,
// and signs the unit's cache key plus its meta sidecar (not the SBOM),
// writing <key>.sig; both files sit next to the committed artifact. Optional per spec.md 6: a failure here is logged and
// swallowed rather than failing the system build, since neither file
// participates in any cache-key or invariant.
func attestSystem(local *cache.Local, unit *graph.Unit, rootfsDir string) {
	if unit.Kind != graph.UnitSystem {
		return
	}
	if err := writeSystemAttestations(context.Background(), local, unit, rootfsDir); err != nil {
		logrus.WithError(err).WithField("unit", unit.ArtifactName).Warn("system attestation failed")
	}
}

func writeSystemAttestations(ctx context.Context, local *cache.Local, unit *graph.Unit, rootfsDir string) error {
	generator := sbom.NewSyftGenerator()
	doc, err := generator.GenerateForRootfs(ctx, rootfsDir, unit.CacheKey, &sbom.GenerateOptions{Format: sbom.FormatSPDXJSON})
	if err != nil {
		return err
	}

	serializer := sbom.NewSyftSerializer()
	sbomData, err := serializer.Serialize(doc, sbom.FormatSPDXJSON)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(local.Dir(), unit.CacheKey+".sbom.json"), sbomData, 0o644); err != nil {
		return err
	}

	keyProvider := signing.NewFileKeyProvider(filepath.Join(local.Dir(), "keys"))
	if err := ensureAttestationKey(ctx, keyProvider); err != nil {
		return err
	}

	meta, err := local.ReadMeta(unit.CacheKey)
	if err != nil {
		return err
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	payload := append([]byte(unit.CacheKey+"\n"), metaBytes...)

	signer := signing.NewCosignSigner(keyProvider)
	sig, err := signer.SignBlob(ctx, payload, &signing.SignOptions{KeyRef: attestationKeyRef})
	if err != nil {
		return err
	}
	sigData, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(local.Dir(), unit.CacheKey+".sig"), sigData, 0o644)
}

func ensureAttestationKey(ctx context.Context, keyProvider *signing.FileKeyProvider) error {
	if _, err := keyProvider.GetPrivateKey(ctx, attestationKeyRef); err == nil {
		return nil
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	return keyProvider.StoreKey(ctx, attestationKeyRef, priv)
}
