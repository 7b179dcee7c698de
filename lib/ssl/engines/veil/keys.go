package veil

import (
	"crypto/cipher"
	"encoding/binary"
	"io"

	sha256 "github.com/minio/sha256-simd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sessionKeys is everything both sides derive once the key exchange is
// done: one cipher and one finish secret per direction.
type sessionKeys struct {
	clientCipher cipher.AEAD
	serverCipher cipher.AEAD
	clientFinish [32]byte
	serverFinish [32]byte
}

// deriveKeys runs the key schedule. ee is the ephemeral-ephemeral shared
// secret, es the ephemeral-static one; the hello randoms salt the
// derivation so reusing a keypair never reuses keys.
func deriveKeys(ee, es []byte, clientRandom, serverRandom [32]byte) (*sessionKeys, error) {
	ikm := make([]byte, 0, len(ee)+len(es))
	ikm = append(ikm, ee...)
	ikm = append(ikm, es...)

	salt := make([]byte, 0, 64)
	salt = append(salt, clientRandom[:]...)
	salt = append(salt, serverRandom[:]...)

	expand := func(info string) ([32]byte, error) {
		var out [32]byte
		r := hkdf.New(sha256.New, ikm, salt, []byte(info))
		if _, err := io.ReadFull(r, out[:]); err != nil {
			return out, err
		}
		return out, nil
	}

	var keys sessionKeys
	var err error

	clientKey, err := expand("veil 1 client key")
	if err != nil {
		return nil, err
	}
	serverKey, err := expand("veil 1 server key")
	if err != nil {
		return nil, err
	}
	if keys.clientFinish, err = expand("veil 1 client finish"); err != nil {
		return nil, err
	}
	if keys.serverFinish, err = expand("veil 1 server finish"); err != nil {
		return nil, err
	}

	if keys.clientCipher, err = chacha20poly1305.New(clientKey[:]); err != nil {
		return nil, err
	}
	if keys.serverCipher, err = chacha20poly1305.New(serverKey[:]); err != nil {
		return nil, err
	}
	return &keys, nil
}

// recordNonce is the per-direction record counter laid out in the
// trailing eight bytes of the nonce.
func recordNonce(seq uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}
