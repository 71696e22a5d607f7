package sha256

import "testing"

func TestHashIsStableAndHex(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("the quick brown fox"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	b, err := h.Hash([]byte("the quick brown fox"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if a != b {
		t.Fatalf("expected stable digest, got %q and %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	c, err := h.Hash([]byte("something else"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if a == c {
		t.Fatal("expected different inputs to produce different digests")
	}
}
