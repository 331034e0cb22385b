package keys

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSigningKey  = errors.New("keys: no signing key configured")
	ErrUnsupported   = errors.New("keys: unsupported signing key type")
	ErrNoSecret      = errors.New("keys: no encryption secret configured")
	ErrDecryptFailed = errors.New("keys: ciphertext cannot be decrypted")
)

// SigningKey wraps one asymmetric private key used to sign issued tokens.
// The key is parsed once at construction and never mutated afterwards.
type SigningKey struct {
	contents   []byte
	passphrase string

	private crypto.PrivateKey
	public  crypto.PublicKey
	method  jwtv5.SigningMethod
}

// SigningKeyFromBytes parses a PEM-encoded RSA, ECDSA or Ed25519 private key.
// A non-empty passphrase is only honored for legacy encrypted RSA PEM blocks.
func SigningKeyFromBytes(pemBytes []byte, passphrase string) (*SigningKey, error) {
	if len(pemBytes) == 0 {
		return nil, ErrNoSigningKey
	}

	key := &SigningKey{
		contents:   append([]byte(nil), pemBytes...),
		passphrase: passphrase,
	}

	if err := key.parse(); err != nil {
		return nil, err
	}
	return key, nil
}

// SigningKeyFromFile reads the PEM file at path and parses it like
// SigningKeyFromBytes.
func SigningKeyFromFile(path string, passphrase string) (*SigningKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read signing key file: %w", err)
	}
	return SigningKeyFromBytes(pemBytes, passphrase)
}

func (k *SigningKey) parse() error {
	if k.passphrase != "" {
		rsaKey, err := jwtv5.ParseRSAPrivateKeyFromPEMWithPassword(k.contents, k.passphrase)
		if err != nil {
			return fmt.Errorf("keys: parse passphrase-protected signing key: %w", err)
		}
		k.private = rsaKey
		k.public = rsaKey.Public()
		k.method = jwtv5.SigningMethodRS256
		return nil
	}

	if rsaKey, err := jwtv5.ParseRSAPrivateKeyFromPEM(k.contents); err == nil {
		k.private = rsaKey
		k.public = rsaKey.Public()
		k.method = jwtv5.SigningMethodRS256
		return nil
	}

	if ecKey, err := jwtv5.ParseECPrivateKeyFromPEM(k.contents); err == nil {
		k.private = ecKey
		k.public = ecKey.Public()
		k.method = jwtv5.SigningMethodES256
		return nil
	}

	edKey, err := jwtv5.ParseEdPrivateKeyFromPEM(k.contents)
	if err != nil {
		return fmt.Errorf("keys: parse signing key: %w", ErrUnsupported)
	}

	private, ok := edKey.(ed25519.PrivateKey)
	if !ok {
		return fmt.Errorf("keys: parse signing key: %w", ErrUnsupported)
	}

	k.private = private
	k.public = private.Public()
	k.method = jwtv5.SigningMethodEdDSA
	return nil
}

// Signer returns the parsed private key in the form golang-jwt expects.
func (k *SigningKey) Signer() crypto.PrivateKey {
	if k == nil {
		return nil
	}
	return k.private
}

// Public returns the verification counterpart of the signing key.
func (k *SigningKey) Public() crypto.PublicKey {
	if k == nil {
		return nil
	}
	return k.public
}

// Method returns the JWT signing method matching the key type.
func (k *SigningKey) Method() jwtv5.SigningMethod {
	if k == nil {
		return nil
	}
	return k.method
}

// Algorithm reports the JOSE algorithm name, useful for JWKS metadata.
func (k *SigningKey) Algorithm() string {
	if k == nil || k.method == nil {
		return ""
	}
	return k.method.Alg()
}

// Material bundles the asymmetric signing key and the symmetric encryption
// secret issued tokens depend on. It is an immutable value; rotation happens
// by replacing the whole Material on its owner.
type Material struct {
	signing *SigningKey
	secret  []byte
}

func NewMaterial(signing *SigningKey, secret []byte) Material {
	return Material{
		signing: signing,
		secret:  append([]byte(nil), secret...),
	}
}

func (m Material) SigningKey() *SigningKey {
	return m.signing
}

func (m Material) Secret() []byte {
	return append([]byte(nil), m.secret...)
}

func (m Material) HasSigningKey() bool {
	return m.signing != nil
}

func (m Material) HasSecret() bool {
	return len(m.secret) > 0
}

// Encrypt seals plaintext with the material's symmetric secret.
func (m Material) Encrypt(plaintext []byte) (string, error) {
	return Encrypt(m.secret, plaintext)
}

// Decrypt opens a blob produced by Encrypt.
func (m Material) Decrypt(encoded string) ([]byte, error) {
	return Decrypt(m.secret, encoded)
}

const (
	gcmNonceSize = 12
	encodingSep  = "|" // base64(nonce)|base64(ciphertext)
)

// Encrypt seals plaintext with AES-256-GCM keyed from the SHA-256 of secret
// and returns base64(nonce)|base64(ciphertext).
func Encrypt(secret []byte, plaintext []byte) (string, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("keys: nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return base64.RawURLEncoding.EncodeToString(nonce) + encodingSep +
		base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens an Encrypt-produced blob. Any malformed encoding, truncated
// nonce or authentication failure reports ErrDecryptFailed; callers decide
// the protocol-level classification.
func Decrypt(secret []byte, encoded string) ([]byte, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(encoded, encodingSep, 2)
	if len(parts) != 2 {
		return nil, ErrDecryptFailed
	}

	nonce, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != gcmNonceSize {
		return nil, ErrDecryptFailed
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrDecryptFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	return plaintext, nil
}

func newAEAD(secret []byte) (cipher.AEAD, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}

	derived := sha256.Sum256(secret)

	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, fmt.Errorf("keys: cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keys: gcm: %w", err)
	}

	return aead, nil
}
