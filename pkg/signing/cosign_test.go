package signing

import (
	"context"
	"testing"
)

func TestCosignSigner_GenerateKeyPair(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileKeyProvider(dir)
	signer := NewCosignSigner(provider)

	tests := []struct {
		name    string
		keyType KeyType
	}{
		{name: "ecdsa default", keyType: ""},
		{name: "ecdsa explicit", keyType: KeyTypeECDSA},
		{name: "ed25519", keyType: KeyTypeEd25519},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp, err := signer.GenerateKeyPair(context.Background(), &KeyGenOptions{KeyType: tt.keyType})
			if err != nil {
				t.Fatalf("GenerateKeyPair() error = %v", err)
			}
			if kp.KeyID == "" {
				t.Error("GenerateKeyPair() returned empty KeyID")
			}
			if kp.PrivateKey == nil || kp.PublicKey == nil {
				t.Error("GenerateKeyPair() returned nil key material")
			}
		})
	}
}

func TestCosignSigner_GenerateKeyPair_UnsupportedType(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	signer := NewCosignSigner(provider)
	if _, err := signer.GenerateKeyPair(context.Background(), &KeyGenOptions{KeyType: "bogus"}); err == nil {
		t.Error("GenerateKeyPair() with unsupported type expected error, got nil")
	}
}

func TestSignAndVerifyArtifact(t *testing.T) {
	ctx := context.Background()
	provider := NewFileKeyProvider(t.TempDir())
	signer := NewCosignSigner(provider)
	verifier := NewCosignVerifier(provider)

	kp, err := signer.GenerateKeyPair(ctx, &KeyGenOptions{KeyType: KeyTypeECDSA})
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	cacheKey := "a1b2c3d4e5f6" + "0000000000000000000000000000000000000000000000000000"
	result, err := signer.SignArtifact(ctx, &SignRequest{CacheKey: cacheKey, KeyRef: kp.KeyID})
	if err != nil {
		t.Fatalf("SignArtifact() error = %v", err)
	}
	if result.Signature == nil || len(result.Signature.Signature) == 0 {
		t.Fatal("SignArtifact() produced no signature bytes")
	}

	verifyResult, err := verifier.VerifyArtifact(ctx, &VerifyRequest{
		CacheKey:  cacheKey,
		KeyRef:    kp.KeyID,
		Signature: result.Signature,
	})
	if err != nil {
		t.Fatalf("VerifyArtifact() error = %v", err)
	}
	if !verifyResult.Verified {
		t.Errorf("VerifyArtifact() Verified = false, Errors = %v", verifyResult.Errors)
	}
}

func TestVerifyArtifact_WrongKeyFails(t *testing.T) {
	ctx := context.Background()
	provider := NewFileKeyProvider(t.TempDir())
	signer := NewCosignSigner(provider)
	verifier := NewCosignVerifier(provider)

	kp1, _ := signer.GenerateKeyPair(ctx, &KeyGenOptions{KeyType: KeyTypeECDSA})
	kp2, _ := signer.GenerateKeyPair(ctx, &KeyGenOptions{KeyType: KeyTypeECDSA})

	cacheKey := "deadbeef"
	result, err := signer.SignArtifact(ctx, &SignRequest{CacheKey: cacheKey, KeyRef: kp1.KeyID})
	if err != nil {
		t.Fatalf("SignArtifact() error = %v", err)
	}

	verifyResult, err := verifier.VerifyArtifact(ctx, &VerifyRequest{
		CacheKey:  cacheKey,
		KeyRef:    kp2.KeyID,
		Signature: result.Signature,
	})
	if err != nil {
		t.Fatalf("VerifyArtifact() error = %v", err)
	}
	if verifyResult.Verified {
		t.Error("VerifyArtifact() Verified = true with mismatched key, want false")
	}
}

func TestFileKeyProvider_StoreAndListKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	provider := NewFileKeyProvider(dir)
	signer := NewCosignSigner(provider)

	kp, err := signer.GenerateKeyPair(ctx, &KeyGenOptions{KeyType: KeyTypeECDSA})
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	keys, err := provider.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	found := false
	for _, k := range keys {
		if k.KeyID == kp.KeyID {
			found = true
		}
	}
	if !found {
		t.Errorf("ListKeys() did not include generated key %s", kp.KeyID)
	}

	if err := provider.DeleteKey(ctx, kp.KeyID); err != nil {
		t.Fatalf("DeleteKey() error = %v", err)
	}
	if _, err := provider.GetPrivateKey(ctx, kp.KeyID); err == nil {
		t.Error("GetPrivateKey() after DeleteKey() expected error, got nil")
	}
}

func TestCosignVerifier_VerifyBlob_EmptySignature(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	verifier := NewCosignVerifier(provider)
	signer := NewCosignSigner(provider)

	kp, _ := signer.GenerateKeyPair(context.Background(), &KeyGenOptions{KeyType: KeyTypeECDSA})
	err := verifier.VerifyBlob(context.Background(), []byte("data"), &Signature{}, kp.PublicKey)
	if err == nil {
		t.Error("VerifyBlob() with empty signature expected error, got nil")
	}
}
