// internal/membership/password.go
package membership

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters. Changing them invalidates every stored hash.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// credential is a derived password key and the salt it was derived with.
type credential struct {
	key, salt []byte
}

func derive(password string, salt []byte) credential {
	return credential{
		key:  argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen),
		salt: salt,
	}
}

// newCredential derives a key for password under a fresh random salt.
func newCredential(password string) (credential, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return credential{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	return derive(password, salt), nil
}

// storedCredential decodes the base64 hash and salt columns of a user row.
func storedCredential(hash, salt string) (credential, error) {
	s, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return credential{}, fmt.Errorf("failed to decode salt: %w", err)
	}
	k, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return credential{}, fmt.Errorf("failed to decode hash: %w", err)
	}
	return credential{key: k, salt: s}, nil
}

// encode returns the hash and salt as stored on the user row.
func (c credential) encode() (hash, salt string) {
	return base64.StdEncoding.EncodeToString(c.key), base64.StdEncoding.EncodeToString(c.salt)
}

// matches reports in constant time whether password derives to c's key.
func (c credential) matches(password string) bool {
	return subtle.ConstantTimeCompare(derive(password, c.salt).key, c.key) == 1
}
