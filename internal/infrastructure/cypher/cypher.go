package cypher

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/shiro-wallet/shirod/internal/core/ports"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 10000
)

var ErrInvalidPassword = fmt.Errorf("invalid password")

type cryptoService struct{}

func New() ports.Crypto {
	return &cryptoService{}
}

func (c *cryptoService) Encrypt(_ context.Context, seed []byte, password string) ([]byte, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("missing plaintext seed")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("missing encryption password")
	}

	key, salt, err := deriveKey([]byte(password), nil)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, seed, nil)
	ciphertext = append(ciphertext, salt...)

	return ciphertext, nil
}

func (c *cryptoService) Decrypt(_ context.Context, encrypted []byte, password string) ([]byte, error) {
	if len(encrypted) == 0 {
		return nil, fmt.Errorf("missing encrypted seed")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("missing decryption password")
	}
	if len(encrypted) <= saltSize {
		return nil, fmt.Errorf("malformed encrypted seed")
	}

	salt := encrypted[len(encrypted)-saltSize:]
	data := encrypted[:len(encrypted)-saltSize]

	key, _, err := deriveKey([]byte(password), salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, fmt.Errorf("malformed encrypted seed")
	}
	nonce, text := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	// #nosec G407
	plaintext, err := gcm.Open(nil, nonce, text, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(blockCipher)
}

var lock sync.Mutex

// deriveKey derives a 32 byte key from the password, a random salt is generated if missing.
func deriveKey(password, salt []byte) ([]byte, []byte, error) {
	lock.Lock()
	defer lock.Unlock()

	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}
	key := pbkdf2.Key(password, salt, iterations, keySize, sha256.New)
	return key, salt, nil
}
