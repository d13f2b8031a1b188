package session

import (
	"encoding/base64"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// RenderQR turns a pairing payload into something a browser can display.
// Links to an image the bridge already rendered are returned as is.
func RenderQR(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("empty pairing code")
	}
	if strings.HasPrefix(code, "http://") || strings.HasPrefix(code, "https://") || strings.HasPrefix(code, "data:") {
		return code, nil
	}
	png, err := qrcode.Encode(code, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
