package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/hashicorp/go-uuid"
	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the size of the symmetric encryption key in bytes (AES-256).
const KeySize = 32

// Keyring is the key-provider capability holding the store's symmetric
// encryption key.  Key is create-if-absent: the first call may create the
// key, and concurrent first callers must not race to create two keys.
// Platform-backed implementations (hardware keystore, secure enclave) can be
// plugged in by satisfying this interface.
type Keyring interface {
	// Key returns the KeySize-byte symmetric key.
	Key(ctx context.Context) ([]byte, error)
}

// Compile-time interface checks.
var (
	_ Keyring = (*FileKeyring)(nil)
	_ Keyring = (*PassphraseKeyring)(nil)
	_ Keyring = (*StaticKeyring)(nil)
)

// FileKeyring holds the key in a file, generating a random key on first use.
type FileKeyring struct {
	path string

	mu  sync.Mutex
	key []byte
}

// NewFileKeyring creates a FileKeyring backed by the file at path.  The file
// is created with mode 0600 on first use if absent.
func NewFileKeyring(path string) (*FileKeyring, error) {
	const op = "store.NewFileKeyring"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	return &FileKeyring{path: path}, nil
}

// Key returns the key, creating it if absent.  Creation uses O_EXCL so
// concurrent first callers across processes settle on a single key.
func (f *FileKeyring) Key(ctx context.Context) ([]byte, error) {
	const op = "store.(FileKeyring).Key"
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.key != nil {
		return f.key, nil
	}

	key, err := os.ReadFile(f.path)
	switch {
	case err == nil:
		if len(key) != KeySize {
			return nil, fmt.Errorf("%s: key file %s holds %d bytes, want %d: %w",
				op, f.path, len(key), KeySize, ErrInvalidKeySize)
		}
		f.key = key
		return f.key, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%s: unable to read key file: %w", op, err)
	}

	key, err = uuid.GenerateRandomBytes(KeySize)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate key: %w", op, err)
	}

	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// another process won the creation race
			key, err = os.ReadFile(f.path)
			if err != nil {
				return nil, fmt.Errorf("%s: unable to read key file: %w", op, err)
			}
			if len(key) != KeySize {
				return nil, fmt.Errorf("%s: key file %s holds %d bytes, want %d: %w",
					op, f.path, len(key), KeySize, ErrInvalidKeySize)
			}
			f.key = key
			return f.key, nil
		}
		return nil, fmt.Errorf("%s: unable to create key file: %w", op, err)
	}

	if err := f.writeKeyFile(file, key); err != nil {
		return nil, fmt.Errorf("%s: unable to write key file: %w", op, err)
	}
	f.key = key
	return f.key, nil
}

// writeKeyFile writes key to the freshly created file, removing the file
// again on failure so a partial key does not shadow later creation attempts.
func (f *FileKeyring) writeKeyFile(file *os.File, key []byte) error {
	defer file.Close()
	if _, err := file.Write(key); err != nil {
		_ = os.Remove(f.path)
		return err
	}
	return nil
}

// pbkdf2Iterations is the PBKDF2-SHA256 work factor.
const pbkdf2Iterations = 10000

// PassphraseKeyring derives the key from a passphrase and salt with
// PBKDF2-SHA256.  The same passphrase and salt always derive the same key.
type PassphraseKeyring struct {
	passphrase []byte
	salt       []byte

	once sync.Once
	key  []byte
}

// NewPassphraseKeyring creates a PassphraseKeyring.  Both the passphrase and
// salt are required.
func NewPassphraseKeyring(passphrase, salt string) (*PassphraseKeyring, error) {
	const op = "store.NewPassphraseKeyring"
	if passphrase == "" {
		return nil, fmt.Errorf("%s: passphrase is empty: %w", op, ErrInvalidParameter)
	}
	if salt == "" {
		return nil, fmt.Errorf("%s: salt is empty: %w", op, ErrInvalidParameter)
	}
	return &PassphraseKeyring{
		passphrase: []byte(passphrase),
		salt:       []byte(salt),
	}, nil
}

// Key derives the key on first use; derivation is performed once per keyring.
func (p *PassphraseKeyring) Key(ctx context.Context) ([]byte, error) {
	p.once.Do(func() {
		p.key = pbkdf2.Key(p.passphrase, p.salt, pbkdf2Iterations, KeySize, sha256.New)
	})
	return p.key, nil
}

// StaticKeyring wraps an externally held key, e.g. a handle obtained from a
// platform keystore by code outside this package.
type StaticKeyring struct {
	key []byte
}

// NewStaticKeyring creates a StaticKeyring from the given KeySize-byte key.
func NewStaticKeyring(key []byte) (*StaticKeyring, error) {
	const op = "store.NewStaticKeyring"
	if len(key) != KeySize {
		return nil, fmt.Errorf("%s: key holds %d bytes, want %d: %w", op, len(key), KeySize, ErrInvalidKeySize)
	}
	cp := make([]byte, len(key))
	copy(cp, key)
	return &StaticKeyring{key: cp}, nil
}

// Key returns the wrapped key.
func (s *StaticKeyring) Key(ctx context.Context) ([]byte, error) {
	return s.key, nil
}
