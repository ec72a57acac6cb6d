package auth

import (
	"strings"
	"testing"
)

func TestHashKey_Stable(t *testing.T) {
	a := HashKey("kb_abc")
	b := HashKey("kb_abc")
	if a != b {
		t.Errorf("same key hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestHashKey_TrimsWhitespace(t *testing.T) {
	if HashKey(" kb_abc \n") != HashKey("kb_abc") {
		t.Error("whitespace should not change the hash")
	}
}

func TestNewToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken failed: %v", err)
		}
		if len(tok) != 64 {
			t.Fatalf("expected 64 hex chars, got %d", len(tok))
		}
		if seen[tok] {
			t.Fatal("duplicate token generated")
		}
		seen[tok] = true
	}
}

func TestNewAPIKey_Prefix(t *testing.T) {
	key, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey failed: %v", err)
	}
	if !strings.HasPrefix(key, "kb_") {
		t.Errorf("expected kb_ prefix, got %s", key)
	}
}
