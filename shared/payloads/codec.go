// Package payloads encrypts Temporal payloads. Session commands carry card
// details, and workflow history keeps every signal it receives.
package payloads

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"
)

const (
	// EncodingEncrypted marks a payload sealed by Codec
	EncodingEncrypted = "binary/encrypted"

	metadataKeyID            = "encryption-key-id"
	metadataOriginalEncoding = "encryption-original-encoding"
)

var (
	// ErrUnknownKey is returned for payloads sealed with another key
	ErrUnknownKey = errors.New("payload was encrypted with a different key")
	// ErrEmptyKey is returned when no key is configured
	ErrEmptyKey = errors.New("payload encryption key is empty")
)

// Codec seals payload data with AES-256-GCM. The payload's original
// encoding is kept in metadata and authenticated with the data.
type Codec struct {
	keyID string
	aead  cipher.AEAD
}

var _ converter.PayloadCodec = (*Codec)(nil)

// NewCodec derives a 256-bit key from secret
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}
	key := sha256.Sum256([]byte(secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	id := sha256.Sum256(key[:])
	return &Codec{keyID: hex.EncodeToString(id[:8]), aead: gcm}, nil
}

// NewDataConverter wraps the default data converter with a Codec
func NewDataConverter(secret string) (converter.DataConverter, error) {
	codec, err := NewCodec(secret)
	if err != nil {
		return nil, err
	}
	return converter.NewCodecDataConverter(converter.GetDefaultDataConverter(), codec), nil
}

// Encode seals every payload
func (c *Codec) Encode(payloads []*commonpb.Payload) ([]*commonpb.Payload, error) {
	out := make([]*commonpb.Payload, len(payloads))
	for i, p := range payloads {
		encoding := p.GetMetadata()[converter.MetadataEncoding]

		nonce := make([]byte, c.aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}

		metadata := make(map[string][]byte, len(p.GetMetadata())+2)
		for k, v := range p.GetMetadata() {
			metadata[k] = v
		}
		metadata[converter.MetadataEncoding] = []byte(EncodingEncrypted)
		metadata[metadataOriginalEncoding] = encoding
		metadata[metadataKeyID] = []byte(c.keyID)

		out[i] = &commonpb.Payload{
			Metadata: metadata,
			Data:     c.aead.Seal(nonce, nonce, p.GetData(), encoding),
		}
	}
	return out, nil
}

// Decode opens sealed payloads. Payloads that were never sealed pass
// through unchanged.
func (c *Codec) Decode(payloads []*commonpb.Payload) ([]*commonpb.Payload, error) {
	out := make([]*commonpb.Payload, len(payloads))
	for i, p := range payloads {
		if string(p.GetMetadata()[converter.MetadataEncoding]) != EncodingEncrypted {
			out[i] = p
			continue
		}
		if string(p.GetMetadata()[metadataKeyID]) != c.keyID {
			return nil, ErrUnknownKey
		}

		data := p.GetData()
		size := c.aead.NonceSize()
		if len(data) < size {
			return nil, errors.New("encrypted payload is too short")
		}
		encoding := p.GetMetadata()[metadataOriginalEncoding]
		plain, err := c.aead.Open(nil, data[:size], data[size:], encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt payload: %w", err)
		}

		metadata := make(map[string][]byte, len(p.GetMetadata()))
		for k, v := range p.GetMetadata() {
			if k == metadataKeyID || k == metadataOriginalEncoding {
				continue
			}
			metadata[k] = v
		}
		metadata[converter.MetadataEncoding] = encoding

		out[i] = &commonpb.Payload{Metadata: metadata, Data: plain}
	}
	return out, nil
}
