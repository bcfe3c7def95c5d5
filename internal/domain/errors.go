// Package domain errors.go contains sentinel errors
package domain

import "errors"

// Sentinel domain-level errors reused by higher layers. Callers match them
// with errors.Is; lower layers wrap the underlying cause alongside them.
var (
	ErrInvalidID       = errors.New("invalid attachment id")
	ErrInvalidMetadata = errors.New("invalid attachment metadata")
	ErrTooLarge        = errors.New("attachment exceeds size limit")

	// ErrNotInitialized is returned by any cryptographic call made before a
	// master key is loaded.
	ErrNotInitialized = errors.New("vault not initialized")
	// ErrInitialization marks a failure to load, generate or persist the master key.
	ErrInitialization = errors.New("vault initialization failed")

	ErrNotFound = errors.New("attachment not found")
	// ErrIntegrity means the decrypted content does not match the stored checksum.
	ErrIntegrity = errors.New("attachment integrity check failed")
	// ErrCryptoFailure covers cipher and padding errors during decryption.
	ErrCryptoFailure = errors.New("attachment decryption failed")
	ErrIO            = errors.New("storage medium failure")
	ErrDownload      = errors.New("attachment download failed")
)
