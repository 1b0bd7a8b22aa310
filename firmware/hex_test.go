package firmware

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// hexRecord builds a single Intel-HEX line with a valid checksum.
func hexRecord(addr uint16, recordType byte, data []byte) string {
	record := make([]byte, 0, len(data)+5)
	record = append(record, byte(len(data)), byte(addr>>8), byte(addr), recordType)
	record = append(record, data...)
	var sum byte
	for _, b := range record {
		sum += b
	}
	record = append(record, ^sum+1)
	return ":" + strings.ToUpper(hex.EncodeToString(record))
}

const eofRecord = ":00000001FF"

func TestParseHex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{
			name:  "single data record",
			input: hexRecord(0, 0x00, []byte{1, 2, 3, 4}) + "\n" + eofRecord + "\n",
			want:  []byte{1, 2, 3, 4},
		},
		{
			name: "gap between records is zero filled",
			input: hexRecord(0, 0x00, []byte{0xAA, 0xBB}) + "\n" +
				hexRecord(8, 0x00, []byte{0xCC, 0xDD}) + "\n" + eofRecord + "\n",
			want: []byte{0xAA, 0xBB, 0, 0, 0, 0, 0, 0, 0xCC, 0xDD},
		},
		{
			name: "records out of order",
			input: hexRecord(4, 0x00, []byte{5, 6}) + "\n" +
				hexRecord(0, 0x00, []byte{1, 2}) + "\n" + eofRecord + "\n",
			want: []byte{1, 2, 0, 0, 5, 6},
		},
		{
			name: "extended segment address offset",
			input: hexRecord(0, 0x02, []byte{0x00, 0x10}) + "\n" +
				hexRecord(0, 0x00, []byte{0x42}) + "\n" + eofRecord + "\n",
			want: append(make([]byte, 0x100), 0x42),
		},
		{
			name: "start linear address record is ignored",
			input: hexRecord(0, 0x05, []byte{0, 0, 0, 0}) + "\n" +
				hexRecord(0, 0x00, []byte{9}) + "\n" + eofRecord + "\n",
			want: []byte{9},
		},
		{
			name:  "empty lines are skipped",
			input: "\n" + hexRecord(0, 0x00, []byte{7}) + "\n\n" + eofRecord + "\n",
			want:  []byte{7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHex(tt.input)
			if err != nil {
				t.Fatalf("ParseHex() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ParseHex() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestParseHexLengthLaw(t *testing.T) {
	// length of the output equals the highest written address + record length
	input := hexRecord(0, 0x00, []byte{1}) + "\n" +
		hexRecord(0x0123, 0x00, []byte{1, 2, 3}) + "\n" + eofRecord + "\n"
	got, err := ParseHex(input)
	if err != nil {
		t.Fatalf("ParseHex() error = %v", err)
	}
	if len(got) != 0x0123+3 {
		t.Errorf("ParseHex() length = %d, want %d", len(got), 0x0123+3)
	}
}

func TestParseHexErrors(t *testing.T) {
	valid := hexRecord(0, 0x00, []byte{1, 2, 3, 4})
	corrupted := valid[:len(valid)-2] + "00"

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "corrupted record checksum",
			input:   corrupted + "\n" + eofRecord + "\n",
			wantErr: ErrMalformedRecord,
		},
		{
			name:    "missing start code",
			input:   valid[1:] + "\n" + eofRecord + "\n",
			wantErr: ErrMalformedRecord,
		},
		{
			name:    "odd number of hex characters",
			input:   valid + "A\n" + eofRecord + "\n",
			wantErr: ErrMalformedRecord,
		},
		{
			name:    "byte count mismatch",
			input:   ":02000000AABBCCDD00\n" + eofRecord + "\n",
			wantErr: ErrMalformedRecord,
		},
		{
			name:    "missing end of file record",
			input:   valid + "\n",
			wantErr: ErrTruncatedImage,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: ErrTruncatedImage,
		},
		{
			name:    "unsupported record type",
			input:   hexRecord(0, 0x06, []byte{1}) + "\n" + eofRecord + "\n",
			wantErr: ErrUnsupportedRecordType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHex(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseHex() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHexRecordHelper(t *testing.T) {
	// guard the test helper itself against drift: well known EOF record
	if got := hexRecord(0, 0x01, nil); got != eofRecord {
		t.Errorf("hexRecord(EOF) = %s, want %s", got, eofRecord)
	}
}

// buildImage produces hex text covering n sequential bytes starting at 0.
func buildImage(n int) string {
	var sb strings.Builder
	for offset := 0; offset < n; offset += 16 {
		end := offset + 16
		if end > n {
			end = n
		}
		data := make([]byte, end-offset)
		for i := range data {
			data[i] = byte(offset + i)
		}
		fmt.Fprintln(&sb, hexRecord(uint16(offset), 0x00, data))
	}
	sb.WriteString(eofRecord + "\n")
	return sb.String()
}
