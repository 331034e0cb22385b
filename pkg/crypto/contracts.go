package crypto

import "errors"

var (
	ErrInvalidHash   = errors.New("secret: invalid hash")
	ErrInvalidConfig = errors.New("secret: invalid config")
)

type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret string, encodedHash string) (bool, error)
}
