package qr

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"QRGate/tools/errs"

	qrcode "github.com/skip2/go-qrcode"
)

// PayloadType marks the blob as a web-auth handshake for the mobile scanner.
const PayloadType = "web-auth"

const imageSize = 256

// Payload is the JSON blob embedded in the QR image. The mobile app parses it
// and calls the authenticate endpoint with the sessionId.
type Payload struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserType  string `json:"userType"`
	IssuedAt  int64  `json:"issuedAt"` // epoch millis
}

func NewPayload(sessionID, userType string, issuedAt time.Time) Payload {
	return Payload{
		Type:      PayloadType,
		SessionID: sessionID,
		UserType:  userType,
		IssuedAt:  issuedAt.UnixMilli(),
	}
}

func (p Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", errs.WrapMsg(err, "marshal qr payload")
	}
	return string(b), nil
}

// DataURL renders the payload as a PNG data URL, the format the web client
// drops straight into an <img> tag.
func DataURL(p Payload) (string, error) {
	data, err := p.Encode()
	if err != nil {
		return "", err
	}
	png, err := qrcode.Encode(data, qrcode.Medium, imageSize)
	if err != nil {
		return "", errs.WrapMsg(err, "encode qr image")
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
