package qr

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewPayloadCarriesHandshakeFields(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPayload("sess-42", "teacher", issued)

	if p.Type != PayloadType {
		t.Fatalf("type = %q, want %q", p.Type, PayloadType)
	}
	if p.SessionID != "sess-42" || p.UserType != "teacher" {
		t.Fatalf("payload = %+v", p)
	}
	if p.IssuedAt != issued.UnixMilli() {
		t.Fatalf("issuedAt = %d, want millis %d", p.IssuedAt, issued.UnixMilli())
	}
}

func TestEncodeIsParseableJSON(t *testing.T) {
	p := NewPayload("sess-42", "admin", time.Now())
	s, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var back Payload
	if err := json.Unmarshal([]byte(s), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != p {
		t.Fatalf("roundtrip = %+v, want %+v", back, p)
	}
}

func TestDataURLIsEmbeddablePNG(t *testing.T) {
	url, err := DataURL(NewPayload("sess-42", "teacher", time.Now()))
	if err != nil {
		t.Fatalf("DataURL: %v", err)
	}

	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("url does not start with %q: %.40s", prefix, url)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("decoded image is not a PNG")
	}
}
