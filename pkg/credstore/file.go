package credstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/scrypt"

	"github.com/3leaps/cloudphotos/pkg/provider/amazonphotos"
)

// fileExt is appended to the sanitized user id.
const fileExt = ".enc"

// keySalt is fixed so that a secret always derives the same key.
var keySalt = []byte("cloudphotos.credstore.v1")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore keeps one AES-256-GCM encrypted file per user under Dir.
//
// Each file holds hex(nonce) ":" hex(ciphertext) where the plaintext is the
// JSON cookie map. Files that cannot be read or decrypted are reported as
// ErrNotFound so a rotated secret behaves like a disconnected account.
type FileStore struct {
	dir  string
	aead cipher.AEAD
	log  *zap.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore derives the encryption key from secret and prepares dir.
func NewFileStore(dir, secret string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("credstore: directory is required")
	}
	if secret == "" {
		return nil, errors.New("credstore: encryption secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := scrypt.Key([]byte(secret), keySalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("credstore: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credstore: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credstore: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, aead: aead, log: logger}, nil
}

// Dir returns the directory holding credential files.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file used for uid.
func (s *FileStore) Path(uid string) (string, error) {
	name := unsafeChars.ReplaceAllString(uid, "_")
	if strings.Trim(name, "._") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, uid)
	}
	return filepath.Join(s.dir, name+fileExt), nil
}

func (s *FileStore) Load(_ context.Context, uid string) (amazonphotos.Credentials, error) {
	path, err := s.Path(uid)
	if err != nil {
		return amazonphotos.Credentials{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Credential file unreadable", zap.String("path", path), zap.Error(err))
		}
		return amazonphotos.Credentials{}, ErrNotFound
	}

	plain, err := s.open(strings.TrimSpace(string(data)))
	if err != nil {
		s.log.Warn("Credential file could not be decrypted", zap.String("path", path), zap.Error(err))
		return amazonphotos.Credentials{}, ErrNotFound
	}

	var cookies map[string]string
	if err := json.Unmarshal(plain, &cookies); err != nil {
		s.log.Warn("Credential file is corrupt", zap.String("path", path), zap.Error(err))
		return amazonphotos.Credentials{}, ErrNotFound
	}
	creds, err := amazonphotos.CredentialsFromMap(cookies)
	if err != nil {
		s.log.Warn("Stored credentials are incomplete", zap.String("path", path), zap.Error(err))
		return amazonphotos.Credentials{}, ErrNotFound
	}
	return creds, nil
}

func (s *FileStore) Save(_ context.Context, uid string, creds amazonphotos.Credentials) error {
	if creds.IsZero() {
		return errors.New("credstore: credentials are empty")
	}
	path, err := s.Path(uid)
	if err != nil {
		return err
	}

	plain, err := json.Marshal(creds.Map())
	if err != nil {
		return fmt.Errorf("credstore: encode: %w", err)
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("credstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("credstore: replace %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, uid string) error {
	path, err := s.Path(uid)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credstore: delete %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) seal(plain []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credstore: nonce: %w", err)
	}
	ct := s.aead.Seal(nil, nonce, plain, nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ct), nil
}

func (s *FileStore) open(text string) ([]byte, error) {
	nonceHex, ctHex, ok := strings.Cut(text, ":")
	if !ok {
		return nil, errors.New("missing separator")
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	if len(nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("nonce has %d bytes", len(nonce))
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, fmt.Errorf("ciphertext: %w", err)
	}
	return s.aead.Open(nil, nonce, ct, nil)
}
