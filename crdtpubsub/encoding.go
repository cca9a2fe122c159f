package crdtpubsub

import (
	"encoding/base64"
	"encoding/json"

	"textsync/common"
	"textsync/crdtop"
)

// Encoder encodes an update into a byte array.
type Encoder interface {
	// Encode encodes an update into a byte array.
	Encode(update *crdtop.Update) ([]byte, error)
}

// Decoder decodes a byte array into an update.
type Decoder interface {
	// Decode decodes a byte array into an update.
	Decode(data []byte) (*crdtop.Update, error)
}

// EncoderDecoder combines the Encoder and Decoder interfaces.
type EncoderDecoder interface {
	Encoder
	Decoder
}

// JSONEncoderDecoder implements the EncoderDecoder interface using JSON
// encoding.
type JSONEncoderDecoder struct{}

// Encode encodes an update into a JSON byte array.
func (ed *JSONEncoderDecoder) Encode(update *crdtop.Update) ([]byte, error) {
	return json.Marshal(update)
}

// Decode decodes a JSON byte array into an update.
func (ed *JSONEncoderDecoder) Decode(data []byte) (*crdtop.Update, error) {
	var update crdtop.Update
	if err := json.Unmarshal(data, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// Base64EncoderDecoder implements the EncoderDecoder interface by
// base64-wrapping another encoding.
type Base64EncoderDecoder struct {
	// The underlying encoder/decoder to use before/after base64
	// encoding/decoding.
	underlying EncoderDecoder
}

// NewBase64EncoderDecoder creates a new Base64EncoderDecoder with the
// specified underlying encoder/decoder.
func NewBase64EncoderDecoder(underlying EncoderDecoder) *Base64EncoderDecoder {
	if underlying == nil {
		underlying = &JSONEncoderDecoder{}
	}
	return &Base64EncoderDecoder{
		underlying: underlying,
	}
}

// Encode encodes an update into a base64 byte array.
func (ed *Base64EncoderDecoder) Encode(update *crdtop.Update) ([]byte, error) {
	data, err := ed.underlying.Encode(update)
	if err != nil {
		return nil, err
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(encoded, data)
	return encoded, nil
}

// Decode decodes a base64 byte array into an update.
func (ed *Base64EncoderDecoder) Decode(data []byte) (*crdtop.Update, error) {
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(decoded, data)
	if err != nil {
		return nil, err
	}
	return ed.underlying.Decode(decoded[:n])
}

// GetEncoderDecoder returns an EncoderDecoder for the specified format.
func GetEncoderDecoder(format EncodingFormat) (EncoderDecoder, error) {
	switch format {
	case EncodingFormatJSON:
		return &JSONEncoderDecoder{}, nil
	case EncodingFormatBase64:
		return NewBase64EncoderDecoder(&JSONEncoderDecoder{}), nil
	default:
		return nil, common.ErrInvalidEncoding{Format: string(format)}
	}
}
