package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrSealedSession is returned when a sealed session file cannot be opened
// with the configured passphrase.
var ErrSealedSession = errors.New("session file is sealed with a different key or corrupt")

// fileDocument is the on-disk layout. Exactly one of Values or Sealed is set.
type fileDocument struct {
	Values map[string]string `json:"values,omitempty"`
	Salt   []byte            `json:"salt,omitempty"`
	Sealed []byte            `json:"sealed,omitempty"`
}

// FileStore keeps the session in a single JSON file. With a passphrase the
// values are sealed with NaCl secretbox under a key derived by scrypt.
type FileStore struct {
	path       string
	passphrase string

	mu     sync.Mutex
	values map[string]string
	salt   []byte
	key    *[keySize]byte
}

// NewFileStore opens (or lazily creates) the session file at path.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store: path is required")
	}
	s := &FileStore{path: path, passphrase: passphrase, values: make(map[string]string)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Get returns the value stored under key.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Set stores value under key and rewrites the file.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flushLocked()
}

// Delete removes key and rewrites the file.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flushLocked()
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode session file: %w", err)
	}

	// A plain file opened with a passphrase is sealed on the next write.
	if len(doc.Sealed) == 0 {
		if doc.Values != nil {
			s.values = doc.Values
		}
		return nil
	}

	if s.passphrase == "" {
		return fmt.Errorf("open session file: %w", ErrSealedSession)
	}
	if len(doc.Salt) != saltSize || len(doc.Sealed) < nonceSize+secretbox.Overhead {
		return fmt.Errorf("open session file: %w", ErrSealedSession)
	}

	key, err := deriveKey(s.passphrase, doc.Salt)
	if err != nil {
		return err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], doc.Sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, doc.Sealed[nonceSize:], &nonce, key)
	if !ok {
		return fmt.Errorf("open session file: %w", ErrSealedSession)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(plain, &values); err != nil {
		return fmt.Errorf("decode sealed session: %w", err)
	}

	s.values = values
	s.salt = doc.Salt
	s.key = key
	return nil
}

func (s *FileStore) flushLocked() error {
	var doc fileDocument
	if s.passphrase == "" {
		doc.Values = s.values
	} else {
		sealed, err := s.sealLocked()
		if err != nil {
			return err
		}
		doc.Salt = s.salt
		doc.Sealed = sealed
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func (s *FileStore) sealLocked() ([]byte, error) {
	if s.key == nil {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		key, err := deriveKey(s.passphrase, salt)
		if err != nil {
			return nil, err
		}
		s.salt = salt
		s.key = key
	}

	plain, err := json.Marshal(s.values)
	if err != nil {
		return nil, fmt.Errorf("encode session values: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key), nil
}

func deriveKey(passphrase string, salt []byte) (*[keySize]byte, error) {
	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], derived)
	return &key, nil
}

// writeFileAtomic replaces path via a temp file in the same directory so a
// crash never leaves a half-written session behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
