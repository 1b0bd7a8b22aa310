package gateway

import (
	"errors"
	"testing"

	"mytracker/types"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "firmware config request",
			raw:  "5;255;4;0;0;0100020016004b370100",
		},
		{
			name: "firmware config response",
			raw:  "5;255;4;0;1;0100020016004b37",
		},
		{
			name: "firmware request",
			raw:  "5;255;4;0;2;010002000300",
		},
		{
			name: "firmware response",
			raw:  "5;255;4;0;3;010002000300000102030405060708090a0b0c0d0e0f",
		},
		{
			name: "reboot request",
			raw:  "5;255;3;0;13;",
		},
		{
			name: "heartbeat response",
			raw:  "12;255;3;0;22;123",
		},
		{
			name: "set with text payload",
			raw:  "106;61;1;0;23;37",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(tt.raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got := Encode(m); got != tt.raw {
				t.Errorf("Encode(Decode()) = %q, want %q", got, tt.raw)
			}
			again, err := Decode(Encode(m))
			if err != nil {
				t.Fatalf("Decode(Encode()) error = %v", err)
			}
			if again != m {
				t.Errorf("Decode(Encode()) = %+v, want %+v", again, m)
			}
		})
	}
}

func TestDecodeConfigRequestFields(t *testing.T) {
	m, err := Decode("7;255;4;0;0;0a00010040001234feca")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.NodeId != 7 || m.ChildId != 255 || m.Command != types.CommandStream {
		t.Fatalf("Decode() envelope = %+v", m)
	}
	payload, ok := m.Payload.(FirmwareConfigRequestPayload)
	if !ok {
		t.Fatalf("payload type = %T", m.Payload)
	}
	want := FirmwareConfigRequestPayload{
		FirmwareType:      10,
		FirmwareVersion:   1,
		Blocks:            64,
		Crc:               0x3412,
		BootloaderVersion: 0xCAFE,
	}
	if payload != want {
		t.Errorf("payload = %+v, want %+v", payload, want)
	}
}

func TestDecodeFirmwareResponseData(t *testing.T) {
	m, err := Decode("5;255;4;0;3;010002000500ffeeddccbbaa998877665544332200ff")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	payload, ok := m.Payload.(FirmwareResponsePayload)
	if !ok {
		t.Fatalf("payload type = %T", m.Payload)
	}
	if payload.Block != 5 {
		t.Errorf("block = %d, want 5", payload.Block)
	}
	if payload.Data[0] != 0xFF || payload.Data[15] != 0xFF || payload.Data[14] != 0x00 {
		t.Errorf("data = %x", payload.Data)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"too few fields", "5;255;4;0;2", ErrMalformedEnvelope},
		{"too many fields", "5;255;4;0;2;0100;extra", ErrMalformedEnvelope},
		{"non numeric node id", "x;255;4;0;2;010002000300", ErrMalformedEnvelope},
		{"node id out of range", "256;255;4;0;2;010002000300", ErrMalformedEnvelope},
		{"odd hex payload", "5;255;4;0;2;01000200030", ErrMalformedPayload},
		{"non hex payload", "5;255;4;0;2;zz0002000300", ErrMalformedPayload},
		{"short config request", "5;255;4;0;0;01000200", ErrMalformedPayload},
		{"long firmware request", "5;255;4;0;2;0100020003000400", ErrMalformedPayload},
		{"sound stream subtype", "5;255;4;0;4;0100", ErrUnknownSubtype},
		{"unknown subtype", "5;255;4;0;77;0100", ErrUnknownSubtype},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeUppercaseHexPayload(t *testing.T) {
	m, err := Decode("5;255;4;0;2;01000200FF00")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	payload, ok := m.Payload.(FirmwareRequestPayload)
	if !ok {
		t.Fatalf("payload type = %T", m.Payload)
	}
	if payload.Block != 255 {
		t.Errorf("block = %d, want 255", payload.Block)
	}
	// uppercase input re-encodes to the lowercase canonical form
	if got := Encode(m); got != "5;255;4;0;2;01000200ff00" {
		t.Errorf("Encode() = %q, want lowercase hex", got)
	}
}

func TestNewRebootMessage(t *testing.T) {
	if got := Encode(NewRebootMessage(42)); got != "42;255;3;0;13;" {
		t.Errorf("Encode(NewRebootMessage(42)) = %q", got)
	}
}

func TestDecodeTrimsLineEnding(t *testing.T) {
	m, err := Decode("5;255;3;0;22;ok\r\n")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Payload != RawPayload("ok") {
		t.Errorf("payload = %q", m.Payload)
	}
}
