package sealed

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(key)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSealOpen(t *testing.T) {
	c := newCipher(t)
	sealed, err := c.Seal("電脳ちゃん、こんにちは")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("Seal output %q lacks prefix", sealed)
	}
	if strings.Contains(sealed, "電脳") {
		t.Fatal("sealed value contains plaintext")
	}

	got, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "電脳ちゃん、こんにちは" {
		t.Errorf("Open = %q", got)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	c := newCipher(t)
	a, _ := c.Seal("same")
	b, _ := c.Seal("same")
	if a == b {
		t.Error("two seals of the same text are identical")
	}
}

func TestOpenPlaintextPassthrough(t *testing.T) {
	c := newCipher(t)
	got, err := c.Open("written before encryption")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "written before encryption" {
		t.Errorf("Open = %q", got)
	}
}

func TestOpenWrongKey(t *testing.T) {
	a, b := newCipher(t), newCipher(t)
	sealed, _ := a.Seal("secret")
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("Open with wrong key succeeded")
	}
}

func TestOpenTruncated(t *testing.T) {
	c := newCipher(t)
	if _, err := c.Open(prefix + "AAAA"); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("err = %v, want ErrCiphertext", err)
	}
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New([]byte("short")); !errors.Is(err, ErrBadKey) {
		t.Fatalf("err = %v, want ErrBadKey", err)
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "history.key")
	key, _ := GenerateKey()
	if err := SaveKey(path, key); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key perm = %o, want 600", perm)
	}

	loaded, err := LoadKey(path)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if string(loaded) != string(key) {
		t.Error("loaded key differs")
	}
}

func TestPlain(t *testing.T) {
	var p Plain
	v, _ := p.Seal("hello")
	if v != "hello" {
		t.Errorf("Seal = %q, want unchanged", v)
	}
	c := newCipher(t)
	sealed, _ := c.Seal("x")
	if _, err := p.Open(sealed); !errors.Is(err, ErrNoKey) {
		t.Fatalf("err = %v, want ErrNoKey", err)
	}
}
