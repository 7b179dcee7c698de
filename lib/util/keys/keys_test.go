package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestKeys_PrivateRoundTrip(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	data, err := MarshalPrivate(key)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParsePrivate(data)
	if err != nil {
		t.Fatal(err)
	}
	if !key.Equal(parsed) {
		t.Error("expected the same key back")
	}
}

func TestKeys_PublicRoundTrip(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	data, err := MarshalPublic(key.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParsePublic(data)
	if err != nil {
		t.Fatal(err)
	}
	if !key.PublicKey().Equal(parsed) {
		t.Error("expected the same key back")
	}
}

func TestKeys_WrongType(t *testing.T) {
	if _, err := ParsePrivate([]byte("not pem")); err == nil {
		t.Error("expected an error for junk input")
	}

	// a valid PEM block holding the wrong kind of key
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(other)
	if err != nil {
		t.Fatal(err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if _, err := ParsePrivate(data); err == nil {
		t.Error("expected an error for a non X25519 key")
	}
}

func TestKeys_WrongBlock(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	private, err := MarshalPrivate(key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParsePublic(private); err == nil {
		t.Error("expected an error for a private block")
	}
}
