package bridge

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"

	"github.com/rafaelmv/wacrm/internal/bus"
	"github.com/rafaelmv/wacrm/internal/status"
)

// RunPairing consumes the whatsmeow QR channel until pairing finishes or
// ctx is cancelled. Each fresh code is stored on the state machine and
// published so late-joining clients can still fetch it.
func (br *Bridge) RunPairing(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-qrChan:
			if !ok {
				return
			}
			switch item.Event {
			case "code":
				dataURL, err := qrDataURL(item.Code)
				if err != nil {
					br.logger.Error("encode pairing QR", zap.Error(err))
					continue
				}
				br.machine.SetQR(dataURL)
				br.bus.Emit(bus.UIQR, dataURL)
				br.logger.Info("pairing QR issued")
			case "success":
				// The Connected event drives the Ready transition from here.
				if err := br.machine.Transition(status.Connecting); err != nil {
					br.logger.Warn("pairing success in unexpected state", zap.Error(err))
				}
				br.logger.Info("pairing succeeded")
			case "timeout":
				br.logger.Warn("pairing QR timed out")
			default:
				if item.Error != nil {
					br.logger.Error("pairing failed", zap.Error(item.Error))
				}
			}
		}
	}
}

// qrDataURL renders a pairing code as an inline PNG data URL, the form
// browser clients can drop straight into an <img> tag.
func qrDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
