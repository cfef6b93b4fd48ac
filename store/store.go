package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// nonceSize is the AES-GCM nonce size in bytes, prepended to every sealed
// record.
const nonceSize = 12

// Store encrypts opaque byte payloads with AES-256-GCM under a key held by a
// Keyring, persisting the sealed records through a KV.  The at-rest format is
// base64(nonce || ciphertext) with a fresh random nonce per Put.
type Store struct {
	kv      KV
	keyring Keyring
	logger  hclog.Logger

	// mu guards lazy aead construction so concurrent first callers share a
	// single key fetch
	mu   sync.Mutex
	aead cipher.AEAD

	corrupt atomic.Uint64
}

// New creates a Store over the given KV and Keyring.
// Supported options: WithLogger
func New(kv KV, keyring Keyring, opt ...Option) (*Store, error) {
	const op = "store.New"
	if kv == nil {
		return nil, fmt.Errorf("%s: kv is nil: %w", op, ErrNilParameter)
	}
	if keyring == nil {
		return nil, fmt.Errorf("%s: keyring is nil: %w", op, ErrNilParameter)
	}
	opts := getStoreOpts(opt...)
	return &Store{
		kv:      kv,
		keyring: keyring,
		logger:  opts.withLogger,
	}, nil
}

// sealer returns the store's AEAD, fetching the key from the keyring on
// first use.
func (s *Store) sealer(ctx context.Context) (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead != nil {
		return s.aead, nil
	}

	key, err := s.keyring.Key(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to obtain encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key holds %d bytes, want %d: %w", len(key), KeySize, ErrInvalidKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("unable to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("unable to create AEAD: %w", err)
	}
	s.aead = aead
	return s.aead, nil
}

// Put seals plaintext and stores it under key.
func (s *Store) Put(ctx context.Context, key string, plaintext []byte) error {
	const op = "store.(Store).Put"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	aead, err := s.sealer(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	nonce, err := uuid.GenerateRandomBytes(nonceSize)
	if err != nil {
		return fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	encoded := base64.StdEncoding.EncodeToString(sealed)

	if err := s.kv.Put(ctx, key, []byte(encoded)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get retrieves and opens the record stored under key.  It returns (nil,
// nil) when the key is absent, and also when the record fails to decode or
// decrypt: corruption is indistinguishable from absence at this boundary.
// Storage-layer failures are surfaced as errors.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "store.(Store).Get"
	if key == "" {
		return nil, fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}

	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	aead, err := s.sealer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sealed, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		s.discard(key, "decode_base64")
		return nil, nil
	}
	if len(sealed) <= nonceSize {
		s.discard(key, "short_ciphertext")
		return nil, nil
	}

	plaintext, err := aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		s.discard(key, "open_failed")
		return nil, nil
	}
	return plaintext, nil
}

// Delete removes the record stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	const op = "store.(Store).Delete"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListKeys returns every key in the underlying KV.
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	const op = "store.(Store).ListKeys"
	keys, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return keys, nil
}

// CorruptCount returns how many unreadable records Get has discarded over the
// store's lifetime.  Callers observing a rising count while records keep
// "going missing" are looking at storage corruption or a key mismatch.
func (s *Store) CorruptCount() uint64 {
	return s.corrupt.Load()
}

// discard records an unreadable record without surfacing it to the caller.
func (s *Store) discard(key, code string) {
	s.corrupt.Add(1)
	s.logger.Debug("discarding unreadable record", "key", key, "code", code)
}
