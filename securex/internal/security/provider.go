// Package security provides the crypto provider contract, reference providers and the
// Secret column type used for transparent column encryption.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Provider is the contract every concrete cipher satisfies. Implementations must be safe
// to call from multiple goroutines; the secure column layer never inspects their internals.
type Provider interface {
	// Encrypt turns serialized plaintext into ciphertext.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt reverses Encrypt. It fails on malformed ciphertext or a wrong key.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Digester is an optional Provider capability identifying the key material
type Digester interface {
	Digest() string
}

// ProviderFunc adapts a pair of functions to the Provider interface
type ProviderFunc struct {
	EncryptFunc func([]byte) ([]byte, error)
	DecryptFunc func([]byte) ([]byte, error)
}

func (p ProviderFunc) Encrypt(plaintext []byte) ([]byte, error)  { return p.EncryptFunc(plaintext) }
func (p ProviderFunc) Decrypt(ciphertext []byte) ([]byte, error) { return p.DecryptFunc(ciphertext) }

// Supported reference algorithms
const (
	AlgorithmAESGCM    = "AES-256-GCM"
	AlgorithmXChaCha20 = "XCHACHA20-POLY1305"
)

// Provider errors
var (
	ErrMasterKeyRequired = errors.New("master key is required")
	ErrCiphertextShort   = errors.New("ciphertext too short")
	ErrAuthentication    = errors.New("message authentication failed")
	ErrUnsupportedCipher = errors.New("unsupported algorithm")
)

const (
	defaultKeyInfo        = "securex-column-key-v1"
	derivedKeyLength      = 32
	providerDigestPrefix  = "securex:"
	maxInvalidAlgoDisplay = 64
)

// ProviderConfig holds key material for the reference providers
type ProviderConfig struct {
	// Master key (should be stored securely)
	MasterKey []byte

	// Salt for key derivation (should be unique per application)
	KeySalt []byte

	// Context string mixed into HKDF; defaults to securex-column-key-v1
	KeyInfo string

	// Algorithm selects the cipher for NewProvider
	Algorithm string
}

// DefaultProviderConfig returns a configuration without key material
func DefaultProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		Algorithm: AlgorithmAESGCM,
	}
}

// NewProvider builds the reference provider named by cfg.Algorithm
func NewProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		cfg = DefaultProviderConfig()
	}

	switch strings.ToUpper(strings.TrimSpace(cfg.Algorithm)) {
	case "", AlgorithmAESGCM, "AES-GCM", "AES":
		return NewAESGCMProvider(cfg)
	case AlgorithmXChaCha20, "XCHACHA20", "CHACHA":
		return NewXChaChaProvider(cfg)
	default:
		name := cfg.Algorithm
		if len(name) > maxInvalidAlgoDisplay {
			name = name[:maxInvalidAlgoDisplay]
		}
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCipher, name)
	}
}

// deriveKey derives a 32-byte key from the master key and salt with HKDF-SHA256
func deriveKey(cfg *ProviderConfig) ([]byte, error) {
	if len(cfg.MasterKey) == 0 {
		return nil, ErrMasterKeyRequired
	}

	info := defaultKeyInfo
	if cfg.KeyInfo != "" {
		info = cfg.KeyInfo
	}

	r := hkdf.New(sha256.New, cfg.MasterKey, cfg.KeySalt, []byte(info))
	key := make([]byte, derivedKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func keyDigest(key []byte) string {
	sum := sha256.Sum256(append([]byte(providerDigestPrefix), key...))
	return hex.EncodeToString(sum[:])
}

// aeadProvider seals with a random nonce prepended to the ciphertext
type aeadProvider struct {
	aead   cipher.AEAD
	digest string
}

func (p *aeadProvider) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *aeadProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := p.aead.NonceSize()
	if len(ciphertext) < nonceSize+p.aead.Overhead() {
		return nil, ErrCiphertextShort
	}

	plaintext, err := p.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return plaintext, nil
}

// Digest returns a hex SHA-256 fingerprint of the derived key
func (p *aeadProvider) Digest() string {
	return p.digest
}

// NewAESGCMProvider creates an AES-256-GCM provider
func NewAESGCMProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, ErrMasterKeyRequired
	}

	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM mode: %w", err)
	}

	return &aeadProvider{aead: aead, digest: keyDigest(key)}, nil
}

// NewXChaChaProvider creates an XChaCha20-Poly1305 provider
func NewXChaChaProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, ErrMasterKeyRequired
	}

	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20-poly1305: %w", err)
	}

	return &aeadProvider{aead: aead, digest: keyDigest(key)}, nil
}

// DigestOf returns the provider's digest, or an empty string when it has none
func DigestOf(p Provider) string {
	if d, ok := p.(Digester); ok {
		return d.Digest()
	}
	return ""
}
