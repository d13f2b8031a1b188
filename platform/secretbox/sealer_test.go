package secretbox

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{7}, 32)
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := New(testKey())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sealed, err := s.Seal([]byte("noise-key"), []byte("agent-1/creds"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if bytes.Contains(sealed, []byte("noise-key")) {
		t.Fatalf("expected plaintext to be hidden")
	}

	opened, err := s.Open(sealed, []byte("agent-1/creds"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if string(opened) != "noise-key" {
		t.Fatalf("expected noise-key, got %q", opened)
	}
}

func TestOpenRejectsWrongAssociatedData(t *testing.T) {
	s, _ := New(testKey())
	sealed, _ := s.Seal([]byte("blob"), []byte("agent-1/a"))

	if _, err := s.Open(sealed, []byte("agent-2/a")); err == nil {
		t.Fatalf("expected open with another owner to fail")
	}
	if _, err := s.Open([]byte{1, 2}, nil); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New([]byte("short")); err == nil {
		t.Fatalf("expected error for short key")
	}
}
