package messaging

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderPairingCode turns a pairing code string into a PNG image payload.
// The result is opaque to callers; the routing layer serves it as-is.
func RenderPairingCode(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, fmt.Errorf("empty pairing code")
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode pairing code: %w", err)
	}
	return png, nil
}
