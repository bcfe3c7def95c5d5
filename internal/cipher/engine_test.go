package cipher

import (
	"bytes"
	"crypto/aes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
)

type staticKey struct {
	key []byte
	err error
}

func (s *staticKey) MasterKey() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte(nil), s.key...), nil
}

func newEngine(t *testing.T, master byte) *Engine {
	t.Helper()
	e, err := New(&staticKey{key: bytes.Repeat([]byte{master}, 32)}, Config{RecordIterations: 100, MasterIterations: 1000})
	require.NoError(t, err)
	return e
}

func TestRoundTrip(t *testing.T) {
	e := newEngine(t, 1)
	payloads := map[string][]byte{
		"empty":         {},
		"short":         []byte("hello"),
		"block aligned": bytes.Repeat([]byte{'a'}, aes.BlockSize*2),
		"large":         bytes.Repeat([]byte("0123456789"), 10_000),
	}
	for name, p := range payloads {
		t.Run(name, func(t *testing.T) {
			ct, salt, err := e.Encrypt(p, "a1")
			require.NoError(t, err)
			assert.Len(t, salt, SaltLength)
			assert.Zero(t, len(ct)%aes.BlockSize)
			assert.Greater(t, len(ct), len(p))

			got, err := e.Decrypt(ct, salt, "a1")
			require.NoError(t, err)
			assert.Equal(t, len(p), len(got))
			assert.True(t, bytes.Equal(p, got))
		})
	}
}

func TestSaltAndCiphertextUnique(t *testing.T) {
	e := newEngine(t, 2)
	ct1, s1, err := e.Encrypt([]byte("same"), "x")
	require.NoError(t, err)
	ct2, s2, err := e.Encrypt([]byte("same"), "x")
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, ct1, ct2)
}

func TestDecryptWithWrongIDOrKey(t *testing.T) {
	e := newEngine(t, 3)
	plain := bytes.Repeat([]byte("secret data "), 20)
	ct, salt, err := e.Encrypt(plain, "id-1")
	require.NoError(t, err)

	other := newEngine(t, 4)
	for name, dec := range map[string]func() ([]byte, error){
		"wrong id":  func() ([]byte, error) { return e.Decrypt(ct, salt, "id-2") },
		"wrong key": func() ([]byte, error) { return other.Decrypt(ct, salt, "id-1") },
	} {
		t.Run(name, func(t *testing.T) {
			got, err := dec()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrCryptoFailure)
				return
			}
			assert.NotEqual(t, plain, got)
		})
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	e := newEngine(t, 5)
	ct, salt, err := e.Encrypt([]byte("abc"), "id")
	require.NoError(t, err)

	_, err = e.Decrypt(nil, salt, "id")
	assert.ErrorIs(t, err, domain.ErrCryptoFailure)
	_, err = e.Decrypt(ct[:len(ct)-1], salt, "id")
	assert.ErrorIs(t, err, domain.ErrCryptoFailure)
	_, err = e.Decrypt(ct, salt[:4], "id")
	assert.ErrorIs(t, err, domain.ErrCryptoFailure)
}

func TestNoMasterKey(t *testing.T) {
	e, err := New(&staticKey{err: domain.ErrNotInitialized}, Config{})
	require.NoError(t, err)
	_, _, err = e.Encrypt([]byte("x"), "id")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = e.Decrypt(make([]byte, 16), make([]byte, SaltLength), "id")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = e.DeriveRecordKey("id")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestNewValidation(t *testing.T) {
	src := &staticKey{key: make([]byte, 32)}
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", Config{}, true},
		{"below master", Config{RecordIterations: 10, MasterIterations: 20}, true},
		{"equal to master", Config{RecordIterations: 20, MasterIterations: 20}, false},
		{"negative", Config{RecordIterations: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(src, tc.cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInitialization)
			}
		})
	}
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, domain.ErrInitialization)
}

func TestDeriveRecordKey(t *testing.T) {
	e := newEngine(t, 6)
	k1, err := e.DeriveRecordKey("a1")
	require.NoError(t, err)
	k1again, _ := e.DeriveRecordKey("a1")
	k2, _ := e.DeriveRecordKey("a2")
	assert.Len(t, k1, 64)
	assert.Equal(t, k1, k1again)
	assert.NotEqual(t, k1, k2)

	other := newEngine(t, 7)
	k3, _ := other.DeriveRecordKey("a1")
	assert.NotEqual(t, k1, k3)
}

func TestUnpad(t *testing.T) {
	full := bytes.Repeat([]byte{16}, 16)
	cases := []struct {
		name string
		in   []byte
		want []byte
		err  bool
	}{
		{"one byte pad", append([]byte("fifteen bytes!!"), 1), []byte("fifteen bytes!!"), false},
		{"full block pad", full, []byte{}, false},
		{"zero pad byte", append(make([]byte, 15), 0), nil, true},
		{"pad too large", append(make([]byte, 15), 17), nil, true},
		{"inconsistent pad", append(append(make([]byte, 13), 9, 3), 3), nil, true},
		{"not block multiple", []byte{1, 2, 3}, nil, true},
		{"empty", nil, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := unpad(tc.in, 16)
			if tc.err {
				assert.True(t, errors.Is(err, errPadding))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
