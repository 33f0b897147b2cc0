// ABOUTME: Tests for stream protocol message types
// ABOUTME: Verifies JSON field names and binary audio chunk framing
package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestClientHelloMarshaling(t *testing.T) {
	hello := ClientHello{
		ClientID:       "test-id",
		Name:           "Test Player",
		Version:        1,
		SupportedRoles: []string{"player"},
		DeviceInfo: &DeviceInfo{
			ProductName:     "Test Product",
			Manufacturer:    "Test Mfg",
			SoftwareVersion: "0.1.0",
		},
		PlayerSupport: &PlayerSupport{
			SupportFormats: []AudioFormat{
				{Codec: "opus", Channels: 2, SampleRate: 48000, BitDepth: 16},
				{Codec: "flac", Channels: 2, SampleRate: 48000, BitDepth: 16},
				{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 16},
			},
			BufferCapacity:    1048576,
			SupportedCommands: []string{"volume", "mute"},
		},
	}

	msg := Message{
		Type:    "client/hello",
		Payload: hello,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded Message
	err = json.Unmarshal(data, &decoded)
	if err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Type != "client/hello" {
		t.Errorf("expected type client/hello, got %s", decoded.Type)
	}
	for _, field := range []string{`"client_id":"test-id"`, `"support_formats"`, `"buffer_capacity":1048576`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("expected %s in %s", field, data)
		}
	}
}

func TestWireFieldNames(t *testing.T) {
	tests := []struct {
		name    string
		payload interface{}
		want    string
	}{
		{"client state", ClientState{State: "synchronized", Volume: 80}, `{"state":"synchronized","volume":80,"muted":false}`},
		{"volume command omits mute", PlayerCommand{Command: "volume", Volume: 30}, `{"command":"volume","volume":30}`},
		{"mute command omits volume", PlayerCommand{Command: "mute", Mute: true}, `{"command":"mute","mute":true}`},
		{"goodbye", ClientGoodbye{Reason: "shutdown"}, `{"reason":"shutdown"}`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.payload)
		if err != nil {
			t.Fatalf("%s: marshal failed: %v", tt.name, err)
		}
		if string(data) != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, data)
		}
	}
}

func TestStreamStartUnmarshaling(t *testing.T) {
	data := []byte(`{"codec":"pcm","sample_rate":44100,"channels":1,"bit_depth":24}`)

	var start StreamStart
	if err := json.Unmarshal(data, &start); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	want := StreamStart{Codec: "pcm", SampleRate: 44100, Channels: 1, BitDepth: 24}
	if start != want {
		t.Errorf("expected %+v, got %+v", want, start)
	}
}

func TestAudioChunkFraming(t *testing.T) {
	chunk := AudioChunk{Timestamp: 0x0102030405060708, Data: []byte{0xAA, 0xBB}}
	data := EncodeAudioChunk(chunk)

	want := []byte{4, 1, 2, 3, 4, 5, 6, 7, 8, 0xAA, 0xBB}
	if !bytes.Equal(data, want) {
		t.Fatalf("expected % X, got % X", want, data)
	}

	decoded, err := DecodeAudioChunk(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Timestamp != chunk.Timestamp || !bytes.Equal(decoded.Data, chunk.Data) {
		t.Errorf("expected %+v, got %+v", chunk, decoded)
	}
}

func TestDecodeAudioChunkErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{4, 0, 0}},
		{"wrong type", []byte{9, 0, 0, 0, 0, 0, 0, 0, 0, 1}},
	}

	for _, tt := range tests {
		if _, err := DecodeAudioChunk(tt.data); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
