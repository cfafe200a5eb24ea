package security

import (
	"crypto/rand"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	aad := []byte("account:aws-prod")
	ct, err := Encrypt(key, []byte(`{"accessKeyId":"AKIA"}`), aad)
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}
	pt, err := Decrypt(key, ct, aad)
	if err != nil {
		t.Fatalf("decrypt error: %v", err)
	}
	if string(pt) != `{"accessKeyId":"AKIA"}` {
		t.Fatalf("roundtrip mismatch: %s", string(pt))
	}
}

func TestDecryptWrongAAD(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	ct, err := Encrypt(key, []byte("bundle"), []byte("account:a"))
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}
	if _, err := Decrypt(key, ct, []byte("account:b")); err == nil {
		t.Fatal("expected auth failure with mismatched AAD")
	}
}

func TestShortKeyRejected(t *testing.T) {
	if _, err := Encrypt([]byte("short"), []byte("x"), nil); err == nil {
		t.Fatal("expected error for short key")
	}
}
