package wire

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// ErrDecrypt is returned when a frame fails Fernet verification. The
// dispatcher treats it as fatal for the connection.
var ErrDecrypt = errors.New("wire: fernet verification failed")

// ParseKey decodes a 32-byte URL-safe base64 Fernet key.
func ParseKey(encoded string) (*fernet.Key, error) {
	keys, err := fernet.DecodeKeys(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return keys[0], nil
}

// NewKey generates a fresh random Fernet key for a per-session rekey.
func NewKey() (*fernet.Key, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, fmt.Errorf("generate fernet key: %w", err)
	}
	return &k, nil
}

// Encrypt wraps a JSON plaintext in a Fernet token suitable for framing.
func Encrypt(key *fernet.Key, plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("fernet encrypt: %w", err)
	}
	return tok, nil
}

// Decrypt verifies and opens one Fernet token. Tokens never expire; the
// session rekey, not a TTL, bounds their usefulness.
func Decrypt(key *fernet.Key, token []byte) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt(token, 0, []*fernet.Key{key})
	if msg == nil {
		return nil, ErrDecrypt
	}
	return msg, nil
}
