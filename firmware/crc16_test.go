package firmware

import "testing"

// crc16Reference is the bit-at-a-time form of the same checksum, used to
// cross-check the nibble table.
func crc16Reference(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

func TestCrc16GoldenVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"modbus check value", []byte("123456789"), 0x4B37},
		{"four byte vector", []byte{0x01, 0x02, 0x03, 0x04}, 0x2BA1},
		{"empty buffer", nil, 0xFFFF},
		{"single zero byte", []byte{0x00}, 0x40BF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Crc16(tt.data); got != tt.want {
				t.Errorf("Crc16() = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestCrc16MatchesReference(t *testing.T) {
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	if got, want := Crc16(data), crc16Reference(data); got != want {
		t.Errorf("Crc16() = 0x%04X, reference = 0x%04X", got, want)
	}
}
