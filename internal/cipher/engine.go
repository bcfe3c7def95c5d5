// Package cipher implements per-record authenticated-by-checksum encryption:
// a record key is stretched from the master key and a random per-record salt,
// the IV is bound to the attachment id, and payloads are sealed with
// AES-256-CBC and PKCS#7 padding.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/keys"
)

const (
	// SaltLength is the size of the random per-record salt.
	SaltLength = 16
	// DefaultRecordIterations is the PBKDF2 count for per-record keys.
	DefaultRecordIterations = 10_000

	recordKeyLength     = 32
	attachmentKeyRounds = 1000
)

// KeySource yields a copy of the active master key.
type KeySource interface {
	MasterKey() ([]byte, error)
}

// Config holds the engine's tunables.
type Config struct {
	RecordIterations int
	// MasterIterations is only used to check that record derivation stays
	// cheaper than master derivation. Zero skips the check.
	MasterIterations int
	Random           io.Reader
}

// Engine encrypts and decrypts attachment payloads. It holds no key material
// of its own; every call asks the KeySource and wipes its copy afterwards.
type Engine struct {
	keys       KeySource
	iterations int
	random     io.Reader
}

// New validates cfg and returns an Engine.
func New(src KeySource, cfg Config) (*Engine, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil key source", domain.ErrInitialization)
	}
	if cfg.RecordIterations == 0 {
		cfg.RecordIterations = DefaultRecordIterations
	}
	if cfg.RecordIterations < 0 {
		return nil, fmt.Errorf("%w: record iterations must be positive", domain.ErrInitialization)
	}
	if cfg.MasterIterations > 0 && cfg.RecordIterations >= cfg.MasterIterations {
		return nil, fmt.Errorf("%w: record iterations (%d) must be below master iterations (%d)",
			domain.ErrInitialization, cfg.RecordIterations, cfg.MasterIterations)
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	return &Engine{keys: src, iterations: cfg.RecordIterations, random: cfg.Random}, nil
}

// Encrypt seals plaintext for id under a fresh random salt and returns the
// ciphertext together with that salt.
func (e *Engine) Encrypt(plaintext []byte, id string) (ciphertext, salt []byte, err error) {
	salt = make([]byte, SaltLength)
	if _, err = io.ReadFull(e.random, salt); err != nil {
		return nil, nil, fmt.Errorf("%w: salt: %w", domain.ErrCryptoFailure, err)
	}
	block, err := e.block(salt)
	if err != nil {
		return nil, nil, err
	}
	padded := pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(block, iv(salt, id)).CryptBlocks(ciphertext, padded)
	keys.Wipe(padded)
	return ciphertext, salt, nil
}

// Decrypt reverses Encrypt. Decrypting with the wrong key or id usually
// surfaces as a padding error; when the padding happens to validate the
// caller's checksum comparison catches it.
func (e *Engine) Decrypt(ciphertext, salt []byte, id string) ([]byte, error) {
	if len(salt) != SaltLength {
		return nil, fmt.Errorf("%w: salt has %d bytes", domain.ErrCryptoFailure, len(salt))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", domain.ErrCryptoFailure, len(ciphertext))
	}
	block, err := e.block(salt)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(ciphertext))
	stdcipher.NewCBCDecrypter(block, iv(salt, id)).CryptBlocks(buf, ciphertext)
	plain, err := unpad(buf, aes.BlockSize)
	if err != nil {
		keys.Wipe(buf)
		return nil, fmt.Errorf("%w: %w", domain.ErrCryptoFailure, err)
	}
	// A single padding block legitimately decodes to nothing; anything longer
	// decoding to nothing means the key was wrong.
	if len(plain) == 0 && len(ciphertext) > aes.BlockSize {
		return nil, fmt.Errorf("%w: empty plaintext from %d-byte ciphertext", domain.ErrCryptoFailure, len(ciphertext))
	}
	return plain, nil
}

// DeriveRecordKey returns a hex identifier bound to the master key and id.
// It is recorded for audit and never used to encrypt.
func (e *Engine) DeriveRecordKey(id string) (string, error) {
	master, err := e.keys.MasterKey()
	if err != nil {
		return "", err
	}
	defer keys.Wipe(master)
	k := pbkdf2.Key(master, []byte("record:"+id), attachmentKeyRounds, recordKeyLength, sha256.New)
	return hex.EncodeToString(k), nil
}

func (e *Engine) block(salt []byte) (stdcipher.Block, error) {
	master, err := e.keys.MasterKey()
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(master)
	rk := pbkdf2.Key(master, salt, e.iterations, recordKeyLength, sha256.New)
	defer keys.Wipe(rk)
	block, err := aes.NewCipher(rk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCryptoFailure, err)
	}
	return block, nil
}

func iv(salt []byte, id string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(id))
	return h.Sum(nil)[:aes.BlockSize]
}

var errPadding = errors.New("invalid padding")

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errPadding
		}
	}
	return b[:len(b)-n], nil
}
