// Package store provides the attachment record store: it encrypts payloads
// through a Sealer, persists metadata and ciphertext through an app.Medium
// and keeps recently decrypted payloads in a cache. External packages
// construct it via New and drive it through app.RecordStore.
package store

// Sealer is the cipher engine as seen by the store.
type Sealer interface {
	Encrypt(plaintext []byte, id string) (ciphertext, salt []byte, err error)
	Decrypt(ciphertext, salt []byte, id string) ([]byte, error)
	DeriveRecordKey(id string) (string, error)
}

// Compressor shrinks payloads before encryption. A nil Compressor disables
// compression entirely.
type Compressor interface {
	Compress(in []byte) ([]byte, error)
	Decompress(in []byte) ([]byte, error)
}
