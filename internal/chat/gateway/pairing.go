package gateway

import (
	"io"

	"github.com/mdp/qrterminal/v3"
)

// RenderQR prints a pairing code as a compact terminal QR code.
func RenderQR(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
	_, _ = io.WriteString(w, "Scan the QR code with the messaging app to pair.\n")
}
