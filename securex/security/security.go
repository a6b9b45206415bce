package security

import internal "go-securex/securex/internal/security"

// Re-export the provider API for external usage/tests/examples

type (
	Provider       = internal.Provider
	Digester       = internal.Digester
	ProviderFunc   = internal.ProviderFunc
	ProviderConfig = internal.ProviderConfig
	Cell           = internal.Cell
)

const (
	AlgorithmAESGCM    = internal.AlgorithmAESGCM
	AlgorithmXChaCha20 = internal.AlgorithmXChaCha20
)

var (
	ErrMasterKeyRequired = internal.ErrMasterKeyRequired
	ErrCiphertextShort   = internal.ErrCiphertextShort
	ErrAuthentication    = internal.ErrAuthentication
	ErrUnsupportedCipher = internal.ErrUnsupportedCipher
	ErrUnsealed          = internal.ErrUnsealed
)

var (
	DefaultProviderConfig = internal.DefaultProviderConfig
	NewProvider           = internal.NewProvider
	NewAESGCMProvider     = internal.NewAESGCMProvider
	NewXChaChaProvider    = internal.NewXChaChaProvider
	DigestOf              = internal.DigestOf
)
