package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    Opcode
		wantErr bool
	}{
		{"step 1", []byte{0x03, 0x10}, OpcodeStep1, false},
		{"step 2", []byte{0x03, 0x11}, OpcodeStep2, false},
		{"heartbeat", []byte{0x02, 0x02}, OpcodeHeartbeat, false},
		{"negative opcode", []byte{0xff, 0xfe}, Opcode(-2), false},
		{"empty", nil, 0, true},
		{"one byte", []byte{0x03}, 0, true},
		{"three bytes", []byte{0x03, 0x10, 0x00}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedRequest) {
					t.Fatalf("Expected ErrMalformedRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestEncodeResponse(t *testing.T) {
	tests := []struct {
		op     Opcode
		status uint16
		want   []byte
	}{
		{OpcodeStep1, StatusStep1, []byte{0x03, 0x10, 0x4a, 0x89}},
		{OpcodeStep2, StatusStep2, []byte{0x03, 0x11, 0xff, 0xff}},
	}
	for _, tt := range tests {
		if got := EncodeResponse(tt.op, tt.status); !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeResponse(%s) = % x, want % x", tt.op, got, tt.want)
		}
	}
}

func TestEncodeRequest(t *testing.T) {
	if got := EncodeRequest(OpcodeStep2); !bytes.Equal(got, []byte{0x03, 0x11}) {
		t.Errorf("EncodeRequest(step 2) = % x", got)
	}
}

func TestEncodeAngle(t *testing.T) {
	if got := EncodeAngle(7.5); !bytes.Equal(got, []byte{0x00, 0x00, 0xf0, 0x40}) {
		t.Errorf("EncodeAngle(7.5) = % x, want 00 00 f0 40", got)
	}
	if got := EncodeAngle(-15); !bytes.Equal(got, []byte{0x00, 0x00, 0x70, 0xc1}) {
		t.Errorf("EncodeAngle(-15) = % x, want 00 00 70 c1", got)
	}

	for _, a := range []float32{-15, -0.5, 0, 3, 15} {
		got, err := DecodeAngle(EncodeAngle(a))
		if err != nil {
			t.Fatalf("DecodeAngle() error = %v", err)
		}
		if got != a {
			t.Errorf("Expected %v, got %v", a, got)
		}
	}

	if _, err := DecodeAngle([]byte{0x01}); err == nil {
		t.Error("Expected error decoding short value")
	}
}

func TestOpcodeString(t *testing.T) {
	if s := Opcode(0x0123).String(); s != "Opcode(0x0123)" {
		t.Errorf("Expected Opcode(0x0123), got %s", s)
	}
	if s := OpcodeStep1.String(); s != "HandshakeStep1" {
		t.Errorf("Expected HandshakeStep1, got %s", s)
	}
}
