package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherRoundTrip(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	digest, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if digest == "correct-horse" {
		t.Fatal("digest must not equal plaintext")
	}
	if !h.Verify(digest, "correct-horse") {
		t.Fatal("expected verification to succeed")
	}
	if h.Verify(digest, "wrong-horse") {
		t.Fatal("expected verification to fail for wrong password")
	}
}

func TestHasherMalformedDigest(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	for _, digest := range []string{"", "not-a-bcrypt-digest", "$2a$xx$garbage"} {
		if h.Verify(digest, "anything") {
			t.Fatalf("malformed digest %q must verify false", digest)
		}
	}
}

func TestHasherCostBounds(t *testing.T) {
	if _, err := NewHasher(bcrypt.MaxCost + 1); err == nil {
		t.Fatal("expected error for cost above max")
	}
	if _, err := NewHasher(-1); err == nil {
		t.Fatal("expected error for negative cost")
	}
	h, err := NewHasher(0)
	if err != nil {
		t.Fatalf("NewHasher(0): %v", err)
	}
	if h.Cost() != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d", h.Cost())
	}
}

func TestHasherEmptyPassword(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if _, err := h.Hash(""); err == nil {
		t.Fatal("expected error hashing empty password")
	}
}
