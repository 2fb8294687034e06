// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeECKeyPEM(t *testing.T, dir, filename string) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), pem.EncodeToMemory(block), 0o600))
	return key
}

func writePKCS8KeyPEM(t *testing.T, dir, filename string) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), pem.EncodeToMemory(block), 0o600))
	return key
}

func TestLoadSigningKey(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	t.Run("sec1 ec key", func(t *testing.T) {
		want := writeECKeyPEM(t, dir, "ec.pem")
		got, err := LoadSigningKey(filepath.Join(dir, "ec.pem"))
		require.NoError(t, err)
		assert.True(t, want.Equal(got))
	})

	t.Run("pkcs8 key", func(t *testing.T) {
		want := writePKCS8KeyPEM(t, dir, "pkcs8.pem")
		got, err := LoadSigningKey(filepath.Join(dir, "pkcs8.pem"))
		require.NoError(t, err)
		assert.True(t, want.Equal(got))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSigningKey(filepath.Join(dir, "absent.pem"))
		assert.Error(t, err)
	})

	t.Run("not pem", func(t *testing.T) {
		path := filepath.Join(dir, "junk.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
		_, err := LoadSigningKey(path)
		assert.Error(t, err)
	})
}

func TestDeriveKeyID(t *testing.T) {
	t.Parallel()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	first, err := DeriveKeyID(key)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := DeriveKeyID(key)
	require.NoError(t, err)
	assert.Equal(t, first, second, "the thumbprint is deterministic")

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherID, err := DeriveKeyID(other)
	require.NoError(t, err)
	assert.NotEqual(t, first, otherID)
}

func TestDeriveAlgorithm(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	alg, err := DeriveAlgorithm(rsaKey)
	require.NoError(t, err)
	assert.Equal(t, "RS256", alg)

	for curve, want := range map[elliptic.Curve]string{
		elliptic.P256(): "ES256",
		elliptic.P384(): "ES384",
		elliptic.P521(): "ES512",
	} {
		key, err := ecdsa.GenerateKey(curve, rand.Reader)
		require.NoError(t, err)
		alg, err := DeriveAlgorithm(key)
		require.NoError(t, err)
		assert.Equal(t, want, alg)
	}
}

func TestFileProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	writeECKeyPEM(t, dir, "signing.pem")
	writePKCS8KeyPEM(t, dir, "previous.pem")

	provider, err := NewFileProvider(Config{
		KeyDir:           dir,
		SigningKeyFile:   "signing.pem",
		FallbackKeyFiles: []string{"previous.pem"},
	})
	require.NoError(t, err)

	signing, err := provider.SigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ES256", signing.Algorithm)
	assert.NotEmpty(t, signing.KeyID)

	public, err := provider.PublicKeys(ctx)
	require.NoError(t, err)
	require.Len(t, public, 2, "fallback keys stay verifiable")
	assert.Equal(t, signing.KeyID, public[0].KeyID)
	assert.Equal(t, "ES384", public[1].Algorithm)

	t.Run("missing signing key file", func(t *testing.T) {
		_, err := NewFileProvider(Config{KeyDir: dir})
		assert.Error(t, err)
	})

	t.Run("missing fallback fails construction", func(t *testing.T) {
		_, err := NewFileProvider(Config{
			KeyDir:           dir,
			SigningKeyFile:   "signing.pem",
			FallbackKeyFiles: []string{"absent.pem"},
		})
		assert.Error(t, err)
	})
}

func TestGeneratingProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	provider := NewGeneratingProvider("")
	first, err := provider.SigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultAlgorithm, first.Algorithm)

	second, err := provider.SigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.KeyID, second.KeyID, "the key is generated once")

	public, err := provider.PublicKeys(ctx)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, first.KeyID, public[0].KeyID)
}

func TestNewProviderSelection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeECKeyPEM(t, dir, "signing.pem")

	fromDir, err := NewProvider(Config{KeyDir: dir, SigningKeyFile: "signing.pem"})
	require.NoError(t, err)
	assert.IsType(t, &FileProvider{}, fromDir)

	generated, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.IsType(t, &GeneratingProvider{}, generated)
}
