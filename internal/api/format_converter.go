package api

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatType names how binary payloads are written in requests and
// responses.
type FormatType string

const (
	FormatHex    FormatType = "hex"
	FormatBase64 FormatType = "base64"
)

// FormatConverter converts binary payloads from and to their text forms.
type FormatConverter struct{}

// NewFormatConverter creates a new format converter.
func NewFormatConverter() *FormatConverter {
	return &FormatConverter{}
}

// GetDefaultFormat returns the format used when a request names none.
func (fc *FormatConverter) GetDefaultFormat() FormatType {
	return FormatHex
}

// ValidateFormat checks a format name; empty means the default.
func (fc *FormatConverter) ValidateFormat(format string) (FormatType, error) {
	switch FormatType(strings.ToLower(format)) {
	case "":
		return fc.GetDefaultFormat(), nil
	case FormatHex:
		return FormatHex, nil
	case FormatBase64:
		return FormatBase64, nil
	}
	return "", fmt.Errorf("unsupported format %q (use hex or base64)", format)
}

// Decode turns the text form of a payload into bytes.
func (fc *FormatConverter) Decode(text string, format FormatType) ([]byte, error) {
	switch format {
	case FormatBase64:
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 value: %w", err)
		}
		return data, nil
	default:
		return fc.decodeHex(text)
	}
}

// Encode renders a payload in the given format.
func (fc *FormatConverter) Encode(data []byte, format FormatType) string {
	if format == FormatBase64 {
		return base64.StdEncoding.EncodeToString(data)
	}
	return strings.ToUpper(hex.EncodeToString(data))
}

// decodeHex accepts an optional 0x prefix and ignores spaces, colons and
// dashes between bytes.
func (fc *FormatConverter) decodeHex(text string) ([]byte, error) {
	text = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(text)), "0x")
	text = strings.NewReplacer(" ", "", ":", "", "-", "", "\n", "", "\t", "").Replace(text)

	data, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value: %w", err)
	}
	return data, nil
}
