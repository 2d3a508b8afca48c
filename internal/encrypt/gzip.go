// Package encrypt wraps cache payloads in a small envelope: a magic header,
// gzip compression and optional AES-GCM sealing.
//
// Envelope layout:
//
//	"GSC" | version(1) | flags(1) | body
//
// flags bit 0 set means body is AES-GCM sealed (nonce || ciphertext) over
// the gzip stream; otherwise body is the gzip stream itself.
package encrypt

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

const (
	magic      = "GSC"
	version    = 1
	flagSealed = 1 << 0
	headerLen  = len(magic) + 2
)

var (
	// ErrEnvelope is returned for payloads without a valid header.
	ErrEnvelope = errors.New("encrypt: not a cache envelope")
	// ErrKey is returned when the sealed state of a payload and the
	// configured secret disagree, or authentication fails.
	ErrKey = errors.New("encrypt: key mismatch")
)

// Seal compresses data and, when secret is non-empty, encrypts it.
func Seal(data []byte, secret []byte) ([]byte, error) {
	var compressed bytes.Buffer
	gz, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	var flags byte
	body := compressed.Bytes()
	if len(secret) > 0 {
		sealed, err := aesGcmEncrypt(body, secret)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt data: %w", err)
		}
		body = sealed
		flags |= flagSealed
	}

	out := make([]byte, 0, headerLen+len(body))
	out = append(out, magic...)
	out = append(out, version, flags)
	return append(out, body...), nil
}

// Open reverses Seal.
func Open(payload []byte, secret []byte) ([]byte, error) {
	if len(payload) < headerLen || string(payload[:len(magic)]) != magic {
		return nil, ErrEnvelope
	}
	if v := payload[len(magic)]; v != version {
		return nil, fmt.Errorf("%w: version %d", ErrEnvelope, v)
	}
	flags := payload[len(magic)+1]
	body := payload[headerLen:]

	sealed := flags&flagSealed != 0
	switch {
	case sealed && len(secret) == 0:
		return nil, fmt.Errorf("%w: payload is encrypted but no key is configured", ErrKey)
	case !sealed && len(secret) > 0:
		return nil, fmt.Errorf("%w: payload is not encrypted", ErrKey)
	case sealed:
		plain, err := aesGcmDecrypt(body, secret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKey, err)
		}
		body = plain
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	return data, nil
}
