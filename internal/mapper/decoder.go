package mapper

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Decoders for file-typed mappings.
const (
	DecoderRaw    = "raw"
	DecoderBase64 = "base64"
	DecoderHex    = "hex"
)

// validDecoder reports whether name is a supported file decoder.
func validDecoder(name string) bool {
	switch name {
	case "", DecoderRaw, DecoderBase64, DecoderHex:
		return true
	default:
		return false
	}
}

// decodeValue turns a resolved string into file content. The default
// decoder is the raw UTF-8 bytes of the value.
func decodeValue(value, decoder string) ([]byte, error) {
	switch decoder {
	case "", DecoderRaw:
		return []byte(value), nil
	case DecoderBase64:
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("base64 decode: %w", err)
		}
		return decoded, nil
	case DecoderHex:
		decoded, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("hex decode: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unknown decoder %q", decoder)
	}
}
