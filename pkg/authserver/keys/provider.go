// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keys provides signing key management for the authorization server:
// loading PEM keys from disk, ephemeral generation for development, and the
// public key material the JWKS endpoint serves.
package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/grantd/grantd/pkg/logger"
)

// DefaultAlgorithm is the signing algorithm for auto-generated keys.
const DefaultAlgorithm = "ES256"

// SigningKey is a private signing key with its derived metadata. It holds
// private key material and must never leave the server process.
type SigningKey struct {
	// KeyID is the RFC 7638 thumbprint of the public key.
	KeyID string

	// Algorithm is the JWT signing algorithm, derived from the key type.
	Algorithm string

	// Key is the private key.
	Key crypto.Signer

	// CreatedAt is when the key was loaded or generated.
	CreatedAt time.Time
}

// PublicKey is the public portion of a signing key, safe for JWKS exposure.
type PublicKey struct {
	KeyID     string
	Algorithm string
	PublicKey crypto.PublicKey
	CreatedAt time.Time
}

// Provider supplies signing keys. Implementations differ only in where key
// material comes from; the configuration is read once at construction and
// never changes while the server runs.
type Provider interface {
	// SigningKey returns the key used for signing new tokens.
	SigningKey(ctx context.Context) (*SigningKey, error)

	// PublicKeys returns every key the JWKS endpoint should advertise.
	// More than one key appears during rotation windows.
	PublicKeys(ctx context.Context) ([]*PublicKey, error)
}

// Config selects the key source.
type Config struct {
	// KeyDir is the directory holding PEM-encoded private keys. Empty
	// means no files are loaded and an ephemeral key is generated.
	KeyDir string

	// SigningKeyFile is the primary key filename, relative to KeyDir.
	SigningKeyFile string

	// FallbackKeyFiles are additional keys advertised for verification
	// only. During rotation the previous signing key moves here so its
	// tokens stay verifiable until they expire.
	FallbackKeyFiles []string
}

// NewProvider builds a Provider from the configuration: a FileProvider when
// a key directory is configured, a GeneratingProvider otherwise.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.KeyDir != "" {
		return NewFileProvider(cfg)
	}
	return NewGeneratingProvider(DefaultAlgorithm), nil
}

// FileProvider loads signing keys from PEM files once at construction.
// Changing keys requires a restart.
type FileProvider struct {
	signingKey *SigningKey
	allKeys    []*SigningKey
}

// NewFileProvider loads the signing key and any fallback keys from KeyDir.
func NewFileProvider(cfg Config) (*FileProvider, error) {
	if cfg.SigningKeyFile == "" {
		return nil, fmt.Errorf("signing key file is required")
	}

	signingKey, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, cfg.SigningKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	allKeys := []*SigningKey{signingKey}
	for _, filename := range cfg.FallbackKeyFiles {
		key, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback key %s: %w", filename, err)
		}
		allKeys = append(allKeys, key)
	}

	return &FileProvider{signingKey: signingKey, allKeys: allKeys}, nil
}

func loadKeyFromFile(keyPath string) (*SigningKey, error) {
	signer, err := LoadSigningKey(keyPath)
	if err != nil {
		return nil, err
	}
	keyID, err := DeriveKeyID(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key ID: %w", err)
	}
	algorithm, err := DeriveAlgorithm(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to derive algorithm: %w", err)
	}
	return &SigningKey{
		KeyID:     keyID,
		Algorithm: algorithm,
		Key:       signer,
		CreatedAt: time.Now(),
	}, nil
}

// SigningKey returns a copy of the primary signing key.
func (p *FileProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	return copySigningKey(p.signingKey), nil
}

// PublicKeys returns public keys for every loaded key, so tokens signed with
// a rotated-out key keep verifying until they expire.
func (p *FileProvider) PublicKeys(_ context.Context) ([]*PublicKey, error) {
	publicKeys := make([]*PublicKey, 0, len(p.allKeys))
	for _, key := range p.allKeys {
		publicKeys = append(publicKeys, &PublicKey{
			KeyID:     key.KeyID,
			Algorithm: key.Algorithm,
			PublicKey: key.Key.Public(),
			CreatedAt: key.CreatedAt,
		})
	}
	return publicKeys, nil
}

// GeneratingProvider generates an ephemeral key on first use. Development
// only: the key is lost on restart, invalidating every issued token.
type GeneratingProvider struct {
	algorithm string
	mu        sync.Mutex
	key       *SigningKey
}

// NewGeneratingProvider creates a lazily generating provider. An empty
// algorithm selects DefaultAlgorithm.
func NewGeneratingProvider(algorithm string) *GeneratingProvider {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	return &GeneratingProvider{algorithm: algorithm}
}

// SigningKey returns the ephemeral key, generating it on first call.
func (p *GeneratingProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key == nil {
		key, err := p.generateKey()
		if err != nil {
			return nil, err
		}
		logger.Warnw("generated ephemeral signing key, tokens will be invalid after restart",
			"algorithm", key.Algorithm,
			"key_id", key.KeyID,
		)
		p.key = key
	}
	return copySigningKey(p.key), nil
}

// PublicKeys returns the single generated public key.
func (p *GeneratingProvider) PublicKeys(ctx context.Context) ([]*PublicKey, error) {
	key, err := p.SigningKey(ctx)
	if err != nil {
		return nil, err
	}
	return []*PublicKey{{
		KeyID:     key.KeyID,
		Algorithm: key.Algorithm,
		PublicKey: key.Key.Public(),
		CreatedAt: key.CreatedAt,
	}}, nil
}

func (p *GeneratingProvider) generateKey() (*SigningKey, error) {
	var (
		signer crypto.Signer
		err    error
	)
	switch p.algorithm {
	case "ES256":
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		signer, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		signer, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported algorithm for key generation: %s", p.algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	keyID, err := DeriveKeyID(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key ID: %w", err)
	}
	return &SigningKey{
		KeyID:     keyID,
		Algorithm: p.algorithm,
		Key:       signer,
		CreatedAt: time.Now(),
	}, nil
}

func copySigningKey(key *SigningKey) *SigningKey {
	clone := *key
	return &clone
}

// Compile-time interface checks.
var (
	_ Provider = (*FileProvider)(nil)
	_ Provider = (*GeneratingProvider)(nil)
)
