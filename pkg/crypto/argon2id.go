package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonScheme  = "argon2id"
	argonVersion = argon2.Version
)

type Argon2idOptions struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltBytes   int
	KeyBytes    uint32
}

type Argon2idHasher struct {
	options Argon2idOptions
}

func DefaultArgon2idOptions() Argon2idOptions {
	return Argon2idOptions{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 1,
		SaltBytes:   16,
		KeyBytes:    32,
	}
}

func NewArgon2idHasher(options Argon2idOptions) *Argon2idHasher {
	defaults := DefaultArgon2idOptions()

	if options.MemoryKiB == 0 {
		options.MemoryKiB = defaults.MemoryKiB
	}
	if options.Iterations == 0 {
		options.Iterations = defaults.Iterations
	}
	if options.Parallelism == 0 {
		options.Parallelism = defaults.Parallelism
	}
	if options.SaltBytes <= 0 {
		options.SaltBytes = defaults.SaltBytes
	}
	if options.KeyBytes == 0 {
		options.KeyBytes = defaults.KeyBytes
	}

	return &Argon2idHasher{
		options: options,
	}
}

// Hash encodes the secret as a PHC string:
// $argon2id$v=19$m=<mem>,t=<time>,p=<par>$<saltB64>$<keyB64>
func (h *Argon2idHasher) Hash(secret string) (string, error) {
	if h == nil {
		return "", ErrInvalidConfig
	}
	if secret == "" {
		return "", ErrInvalidConfig
	}

	salt := make([]byte, h.options.SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	derived := argon2.IDKey([]byte(secret), salt, h.options.Iterations, h.options.MemoryKiB, h.options.Parallelism, h.options.KeyBytes)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argonScheme,
		argonVersion,
		h.options.MemoryKiB,
		h.options.Iterations,
		h.options.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(derived),
	), nil
}

func (h *Argon2idHasher) Verify(secret string, encodedHash string) (bool, error) {
	if h == nil {
		return false, ErrInvalidConfig
	}
	if secret == "" {
		return false, ErrInvalidConfig
	}

	memory, iterations, parallelism, salt, expected, err := parseArgon2idHash(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(candidate, expected) == 1, nil
}

func parseArgon2idHash(encodedHash string) (uint32, uint32, uint8, []byte, []byte, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argonScheme {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argonVersion {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	derived, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(derived) == 0 {
		return 0, 0, 0, nil, nil, ErrInvalidHash
	}

	return memory, iterations, parallelism, salt, derived, nil
}
