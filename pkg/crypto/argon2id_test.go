package crypto

import "testing"

func TestArgon2idHashAndVerify(t *testing.T) {
	hasher := NewArgon2idHasher(Argon2idOptions{
		MemoryKiB:   8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltBytes:   16,
		KeyBytes:    32,
	})

	encoded, err := hasher.Hash("client-secret")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	ok, err := hasher.Verify("client-secret", encoded)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected hash verification to succeed")
	}

	ok, err = hasher.Verify("wrong-secret", encoded)
	if err != nil {
		t.Fatalf("verify wrong secret failed with error: %v", err)
	}
	if ok {
		t.Fatal("expected hash verification to fail for wrong secret")
	}
}

func TestArgon2idVerifyInvalidHash(t *testing.T) {
	hasher := NewArgon2idHasher(Argon2idOptions{})

	ok, err := hasher.Verify("client-secret", "invalid")
	if err == nil {
		t.Fatal("expected invalid hash error")
	}
	if ok {
		t.Fatal("expected verification to fail")
	}
}

func TestArgon2idRejectsEmptySecret(t *testing.T) {
	hasher := NewArgon2idHasher(Argon2idOptions{})

	if _, err := hasher.Hash(""); err != ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := hasher.Verify("", "whatever"); err != ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
