package vault

import (
	"path/filepath"
	"testing"
)

func TestCreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), VaultFileName)

	v, err := Create(path, "correct horse")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	creds := Credentials{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG",
		SessionToken:    "tok",
	}
	if err := v.PutCredentials("profile:agent", creds); err != nil {
		t.Fatalf("putting: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	reopened, err := Open(path, "correct horse")
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	got, err := reopened.GetCredentials("profile:agent")
	if err != nil {
		t.Fatalf("getting: %v", err)
	}
	if got != creds {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), VaultFileName)

	v, err := Create(path, "right")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	v.PutRaw("k", []byte("secret"))
	v.Close()

	if _, err := Open(path, "wrong"); err == nil {
		t.Error("wrong passphrase accepted")
	}
}

func TestKeyBoundCiphertext(t *testing.T) {
	v, err := CreateMemoryOnly("pass")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	defer v.Close()

	if err := v.PutRaw("key-a", []byte("secret")); err != nil {
		t.Fatalf("putting: %v", err)
	}

	// Moving ciphertext to a different key must fail authentication.
	v.entries["key-b"] = v.entries["key-a"]
	if _, err := v.GetRaw("key-b"); err == nil {
		t.Error("ciphertext decrypted under foreign key")
	}
	if _, err := v.GetRaw("key-a"); err != nil {
		t.Errorf("original key broken: %v", err)
	}
}

func TestDeleteAndHas(t *testing.T) {
	v, _ := CreateMemoryOnly("pass")
	defer v.Close()

	v.PutRaw("k", []byte("x"))
	if !v.Has("k") {
		t.Error("expected key present")
	}
	if err := v.Delete("k"); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	if v.Has("k") {
		t.Error("deleted key still present")
	}
	if err := v.Delete("k"); err == nil {
		t.Error("double delete should error")
	}
}

func TestMemoryOnlyNeverTouchesDisk(t *testing.T) {
	dir := t.TempDir()

	v, err := CreateMemoryOnly("pass")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	v.PutRaw("k", []byte("x"))
	if err := v.Save(); err != nil {
		t.Fatalf("saving: %v", err)
	}
	v.Close()

	if _, err := Open(filepath.Join(dir, VaultFileName), "pass"); err == nil {
		t.Error("memory-only vault appeared on disk")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")

	a := DeriveKey("pass", salt)
	b := DeriveKey("pass", salt)
	if string(a) != string(b) {
		t.Error("same inputs produced different keys")
	}

	c := DeriveKey("other", salt)
	if string(a) == string(c) {
		t.Error("different passphrases produced the same key")
	}
}
