package vars

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// ErrBadCiphertext is returned when a stored secret fails verification,
// usually because the encryption key changed underneath it.
var ErrBadCiphertext = errors.New("ciphertext verification failed")

// Cipher encrypts and decrypts secret values with a single symmetric
// Fernet key loaded at startup. Tokens carry their own authentication,
// so a wrong key is detected rather than producing garbage.
type Cipher struct {
	key *fernet.Key
}

// NewCipher builds a cipher from a base64url-encoded 32-byte Fernet
// key, the format GenerateKey produces.
func NewCipher(encodedKey string) (*Cipher, error) {
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// GenerateKey produces a fresh encoded Fernet key, for provisioning a
// new deployment.
func GenerateKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("generate fernet key: %w", err)
	}
	return key.Encode(), nil
}

// Encrypt seals a plaintext value into a Fernet token.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("encrypt secret: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a Fernet token. Tokens never expire here; rotation is
// handled by re-encrypting, not by TTL.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{c.key})
	if msg == nil {
		return "", ErrBadCiphertext
	}
	return string(msg), nil
}
