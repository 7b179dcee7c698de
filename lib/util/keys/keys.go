// Package keys loads and stores X25519 identity keys as PEM.
package keys

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	privateType = "PRIVATE KEY"
	publicType  = "PUBLIC KEY"
)

// Generate makes a fresh X25519 identity key.
func Generate() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

// MarshalPrivate encodes key as a PKCS #8 PEM block.
func MarshalPrivate(key *ecdh.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: privateType, Bytes: der}), nil
}

// ParsePrivate decodes a PKCS #8 PEM block holding an X25519 key.
func ParsePrivate(data []byte) (*ecdh.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != privateType {
		return nil, fmt.Errorf("expected a %q block but found %q", privateType, block.Type)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*ecdh.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("expected an X25519 key but found %T", parsed)
	}
	if key.Curve() != ecdh.X25519() {
		return nil, errors.New("expected an X25519 key")
	}
	return key, nil
}

// MarshalPublic encodes key as a PKIX PEM block.
func MarshalPublic(key *ecdh.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: publicType, Bytes: der}), nil
}

// ParsePublic decodes a PKIX PEM block holding an X25519 key.
func ParsePublic(data []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != publicType {
		return nil, fmt.Errorf("expected a %q block but found %q", publicType, block.Type)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*ecdh.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected an X25519 key but found %T", parsed)
	}
	if key.Curve() != ecdh.X25519() {
		return nil, errors.New("expected an X25519 key")
	}
	return key, nil
}
