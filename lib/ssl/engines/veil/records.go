package veil

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Records are framed as type (1 byte), version (2 bytes), payload length
// (2 bytes, big endian), payload. Handshake hellos and alerts travel in
// the clear; everything else is sealed with the record header as
// additional data.
const (
	recordAlert     = 21
	recordHandshake = 22
	recordData      = 23

	version = 0x5601

	headerSize   = 5
	maxPlaintext = 16 * 1024
	tagSize      = chacha20poly1305.Overhead
	maxPayload   = maxPlaintext + tagSize
	maxRecord    = headerSize + maxPayload
)

// handshake message types
const (
	msgClientHello = 1
	msgServerHello = 2
	msgFinished    = 3
)

// helloSize is a handshake hello: message type, public key, random.
const helloSize = 1 + 32 + 32

// the only alert is the close notification
const alertClose = 0

func putHeader(dst []byte, typ byte, n int) {
	dst[0] = typ
	binary.BigEndian.PutUint16(dst[1:], version)
	binary.BigEndian.PutUint16(dst[3:], uint16(n))
}

// parseHeader reads a record header. ok is false when src holds less
// than a full header.
func parseHeader(src []byte) (typ byte, n int, ok bool, err error) {
	if len(src) < headerSize {
		return 0, 0, false, nil
	}
	typ = src[0]
	if v := binary.BigEndian.Uint16(src[1:]); v != version {
		return 0, 0, false, fmt.Errorf("unsupported record version %#x", v)
	}
	n = int(binary.BigEndian.Uint16(src[3:]))
	if n > maxPayload {
		return 0, 0, false, fmt.Errorf("record payload of %d exceeds %d", n, maxPayload)
	}
	return typ, n, true, nil
}
