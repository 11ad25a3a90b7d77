package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LE(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE failed: %v", err)
	}

	if !IsWAV(wav) {
		t.Fatalf("encoded output is not recognized as WAV")
	}
	if got := len(wav); got != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", got, 44+len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("data chunk does not match input PCM")
	}

	sampleRate := binary.LittleEndian.Uint32(wav[24:28])
	if sampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", sampleRate)
	}
	channels := binary.LittleEndian.Uint16(wav[22:24])
	if channels != 1 {
		t.Fatalf("channels = %d, want 1", channels)
	}
}

func TestEncodeDefaultsSampleRate(t *testing.T) {
	wav, err := EncodeWAVPCM16LE([]byte{0x00, 0x00}, 0)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE failed: %v", err)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != DefaultSampleRate {
		t.Fatalf("sample rate = %d, want %d", got, DefaultSampleRate)
	}
}

func TestEnsureWAVPassesThroughExistingContainer(t *testing.T) {
	wav, err := EncodeWAVPCM16LE([]byte{0x05, 0x06}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE failed: %v", err)
	}
	again, err := EnsureWAV(wav, 16000)
	if err != nil {
		t.Fatalf("EnsureWAV failed: %v", err)
	}
	if !bytes.Equal(again, wav) {
		t.Fatalf("EnsureWAV re-wrapped an existing WAV stream")
	}

	raw := []byte{0x07, 0x08}
	wrapped, err := EnsureWAV(raw, 16000)
	if err != nil {
		t.Fatalf("EnsureWAV failed: %v", err)
	}
	if !IsWAV(wrapped) {
		t.Fatalf("EnsureWAV did not wrap raw PCM")
	}
}
