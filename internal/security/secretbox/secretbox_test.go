package secretbox

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testBox(t *testing.T, seed byte) *Box {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	b, err := New(raw)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return b
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()
	b := testBox(t, 1)

	for _, msg := range []string{"", "hola mundo ✓ — secreto", "JBSWY3DPEHPK3PXP", strings.Repeat("x", 4096)} {
		ct, err := b.Encrypt(msg)
		if err != nil {
			t.Fatalf("Encrypt err: %v", err)
		}
		pt, err := b.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt err: %v", err)
		}
		if pt != msg {
			t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
		}
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	t.Parallel()
	b := testBox(t, 200)

	ct, err := b.Encrypt("top secret")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	parts := strings.Split(ct, "|")
	if len(parts) != 2 {
		t.Fatalf("unexpected ct format")
	}
	// corromper un byte del ciphertext (base64 -> bytes -> flip -> base64)
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	bs[0] ^= 0x01 // flip
	corrupted := parts[0] + "|" + base64.StdEncoding.EncodeToString(bs)

	if _, err := b.Decrypt(corrupted); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecrypt_MalformedInput(t *testing.T) {
	t.Parallel()
	b := testBox(t, 7)

	for _, bad := range []string{"", "no-sep", "a|b|c", "!!!|" + base64.StdEncoding.EncodeToString([]byte("x")), base64.StdEncoding.EncodeToString([]byte("shortnonce")) + "|AAAA"} {
		if _, err := b.Decrypt(bad); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("input %q: expected ErrDecryptionFailed, got %v", bad, err)
		}
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	t.Parallel()
	a := testBox(t, 1)
	b := testBox(t, 2)

	ct, err := a.Encrypt("cross-key")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed with wrong key, got %v", err)
	}
}

func TestNewFromBase64_Validation(t *testing.T) {
	t.Parallel()
	if _, err := NewFromBase64(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := NewFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 16))); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := NewFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 32))); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
