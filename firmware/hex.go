package firmware

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedRecord       = errors.New("malformed intel-hex record")
	ErrTruncatedImage        = errors.New("truncated image: no end-of-file record")
	ErrUnsupportedRecordType = errors.New("unsupported record type")
)

// Intel-HEX record types handled by the parser.
const (
	recordData             = 0x00
	recordEndOfFile        = 0x01
	recordExtendedSegment  = 0x02
	recordStartSegmentAddr = 0x03
	recordExtendedLinear   = 0x04
	recordStartLinearAddr  = 0x05

	recordMinLength = 5 // count + 2 address + type + checksum
)

// ParseHex decodes Intel-HEX text into a flat binary image. The buffer runs
// from address 0 to the highest written address, with unwritten gaps
// zero-filled, because the bootloader flashes a contiguous range.
//
// Records must carry a valid trailing checksum (two's complement of the byte
// sum) and the input must end with an end-of-file record. Extended segment
// (0x02) and extended linear (0x04) address records are applied as offsets;
// start-address records (0x03, 0x05) carry no data and are skipped.
func ParseHex(text string) ([]byte, error) {
	var image []byte
	var extendedOffset uint32
	sawEOF := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] != ':' {
			return nil, fmt.Errorf("line %d: missing start code: %w", lineNum, ErrMalformedRecord)
		}
		record, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", lineNum, err, ErrMalformedRecord)
		}
		if len(record) < recordMinLength {
			return nil, fmt.Errorf("line %d: record too short: %w", lineNum, ErrMalformedRecord)
		}

		count := int(record[0])
		if len(record) != recordMinLength+count {
			return nil, fmt.Errorf("line %d: byte count mismatch: %w", lineNum, ErrMalformedRecord)
		}
		if err = verifyRecordChecksum(record); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		address := uint32(record[1])<<8 | uint32(record[2])
		recordType := record[3]
		data := record[4 : 4+count]

		switch recordType {
		case recordData:
			offset := extendedOffset + address
			end := offset + uint32(count)
			if int(end) > len(image) {
				grown := make([]byte, end)
				copy(grown, image)
				image = grown
			}
			copy(image[offset:end], data)
		case recordEndOfFile:
			sawEOF = true
		case recordExtendedSegment:
			if count != 2 {
				return nil, fmt.Errorf("line %d: bad extended segment record: %w", lineNum, ErrMalformedRecord)
			}
			extendedOffset = (uint32(data[0])<<8 | uint32(data[1])) << 4
		case recordExtendedLinear:
			if count != 2 {
				return nil, fmt.Errorf("line %d: bad extended linear record: %w", lineNum, ErrMalformedRecord)
			}
			extendedOffset = (uint32(data[0])<<8 | uint32(data[1])) << 16
		case recordStartSegmentAddr, recordStartLinearAddr:
			// entry point records, irrelevant for flashing
		default:
			return nil, fmt.Errorf("line %d: type 0x%02X: %w", lineNum, recordType, ErrUnsupportedRecordType)
		}
		if sawEOF {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawEOF {
		return nil, ErrTruncatedImage
	}
	return image, nil
}

func verifyRecordChecksum(record []byte) error {
	var sum byte
	for _, b := range record[:len(record)-1] {
		sum += b
	}
	expected := ^sum + 1
	if record[len(record)-1] != expected {
		return fmt.Errorf("checksum 0x%02X, expected 0x%02X: %w", record[len(record)-1], expected, ErrMalformedRecord)
	}
	return nil
}
