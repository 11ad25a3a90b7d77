package protocol

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestParseCallRegister(t *testing.T) {
	raw := []byte(`{"type":"call_register","callId":"c1","phoneNumber":"+15551234567","deviceId":"d1","isIncoming":true}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(CallRegister)
	if !ok {
		t.Fatalf("parsed type = %T, want CallRegister", parsed)
	}
	if msg.CallID != "c1" || msg.PhoneNumber != "+15551234567" || msg.DeviceID != "d1" || !msg.IsIncoming {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestParseCallAudioDecodesFragment(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("pcm-bytes"))
	raw := []byte(`{"type":"call_audio","callId":"c1","audio":"` + audio + `"}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg := parsed.(CallAudio)
	if string(msg.Decoded) != "pcm-bytes" {
		t.Fatalf("Decoded = %q, want %q", msg.Decoded, "pcm-bytes")
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"register without phone", `{"type":"call_register","callId":"c1","deviceId":"d1"}`},
		{"status without status", `{"type":"call_status","callId":"c1"}`},
		{"audio without payload", `{"type":"call_audio","callId":"c1"}`},
		{"audio with bad base64", `{"type":"call_audio","callId":"c1","audio":"%%%"}`},
		{"observe without call", `{"type":"call_observe"}`},
		{"device_info without metadata", `{"type":"device_info"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("ParseClientMessage(%s) should fail", tc.raw)
			}
		})
	}
}

func TestParseUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"telepathy"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{nope`)); err == nil {
		t.Fatalf("ParseClientMessage with invalid JSON should fail")
	}
}
