package whatsapp

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// ErrNoPairingCode is returned when an instance has no pending pairing
var ErrNoPairingCode = errors.New("no pairing code pending")

// RenderQR encodes a pairing payload as a PNG data URL
func RenderQR(payload string, size int) (string, error) {
	if payload == "" {
		return "", ErrNoPairingCode
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
