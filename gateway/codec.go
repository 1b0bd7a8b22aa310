package gateway

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mytracker/types"
)

var (
	ErrMalformedEnvelope = errors.New("malformed message envelope")
	ErrMalformedPayload  = errors.New("malformed stream payload")
	ErrUnknownSubtype    = errors.New("unknown stream subtype")
)

const envelopeFields = 6

// Message is one decoded gateway frame: nodeId;childId;command;ack;type;payload.
// Stream payloads are decoded into fixed-shape structs, everything else is
// carried as an opaque string. All payload variants are value types, so two
// messages can be compared with ==.
type Message struct {
	NodeId  uint8
	ChildId uint8
	Command types.Command
	Ack     uint8
	Type    uint8
	Payload Payload
}

type Payload interface {
	encode() string
}

// RawPayload is the unparsed payload of non-stream traffic.
type RawPayload string

func (p RawPayload) encode() string { return string(p) }

// FirmwareConfigRequestPayload is what a bootloader reports when it asks
// whether new firmware is available.
type FirmwareConfigRequestPayload struct {
	FirmwareType      uint16
	FirmwareVersion   uint16
	Blocks            uint16
	Crc               uint16
	BootloaderVersion uint16
}

func (p FirmwareConfigRequestPayload) encode() string {
	return encodeWords(p.FirmwareType, p.FirmwareVersion, p.Blocks, p.Crc, p.BootloaderVersion)
}

// FirmwareConfigResponsePayload announces the image a node should fetch.
type FirmwareConfigResponsePayload struct {
	FirmwareType    uint16
	FirmwareVersion uint16
	Blocks          uint16
	Crc             uint16
}

func (p FirmwareConfigResponsePayload) encode() string {
	return encodeWords(p.FirmwareType, p.FirmwareVersion, p.Blocks, p.Crc)
}

// FirmwareRequestPayload asks for one 16-byte block.
type FirmwareRequestPayload struct {
	FirmwareType    uint16
	FirmwareVersion uint16
	Block           uint16
}

func (p FirmwareRequestPayload) encode() string {
	return encodeWords(p.FirmwareType, p.FirmwareVersion, p.Block)
}

// FirmwareResponsePayload carries one block of image data.
type FirmwareResponsePayload struct {
	FirmwareType    uint16
	FirmwareVersion uint16
	Block           uint16
	Data            [16]byte
}

func (p FirmwareResponsePayload) encode() string {
	return encodeWords(p.FirmwareType, p.FirmwareVersion, p.Block) + hex.EncodeToString(p.Data[:])
}

// Decode parses one newline-trimmed gateway line. Hex stream payloads are
// accepted in either case.
func Decode(raw string) (Message, error) {
	var m Message
	line := strings.TrimRight(raw, "\r\n")
	parts := strings.Split(line, ";")
	if len(parts) != envelopeFields {
		return m, fmt.Errorf("%d fields: %w", len(parts), ErrMalformedEnvelope)
	}

	nodeId, err := parseUint8(parts[0])
	if err != nil {
		return m, fmt.Errorf("node id %q: %w", parts[0], ErrMalformedEnvelope)
	}
	childId, err := parseUint8(parts[1])
	if err != nil {
		return m, fmt.Errorf("child id %q: %w", parts[1], ErrMalformedEnvelope)
	}
	command, err := parseUint8(parts[2])
	if err != nil {
		return m, fmt.Errorf("command %q: %w", parts[2], ErrMalformedEnvelope)
	}
	ack, err := parseUint8(parts[3])
	if err != nil {
		return m, fmt.Errorf("ack %q: %w", parts[3], ErrMalformedEnvelope)
	}
	subtype, err := parseUint8(parts[4])
	if err != nil {
		return m, fmt.Errorf("type %q: %w", parts[4], ErrMalformedEnvelope)
	}

	m.NodeId = nodeId
	m.ChildId = childId
	m.Command = types.Command(command)
	m.Ack = ack
	m.Type = subtype

	if m.Command == types.CommandStream {
		payload, err := decodeStreamPayload(types.Stream(subtype), parts[5])
		if err != nil {
			return Message{}, err
		}
		m.Payload = payload
	} else {
		m.Payload = RawPayload(parts[5])
	}
	return m, nil
}

// Encode renders the canonical form of a message, hex payloads in lowercase.
// Decode(Encode(m)) == m for every valid message; Encode(Decode(raw)) == raw
// whenever raw is already canonical.
func Encode(m Message) string {
	return fmt.Sprintf("%d;%d;%d;%d;%d;%s", m.NodeId, m.ChildId, m.Command, m.Ack, m.Type, m.Payload.encode())
}

// NewRebootMessage builds the internal reboot request that drops a node into
// its bootloader.
func NewRebootMessage(nodeId uint8) Message {
	return Message{
		NodeId:  nodeId,
		ChildId: types.BroadcastAddress,
		Command: types.CommandInternal,
		Type:    uint8(types.InternalReboot),
		Payload: RawPayload(""),
	}
}

func decodeStreamPayload(subtype types.Stream, payload string) (Payload, error) {
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrMalformedPayload)
	}
	switch subtype {
	case types.StreamFirmwareConfigRequest:
		if len(data) != 10 {
			return nil, fmt.Errorf("%s: %d bytes, want 10: %w", subtype, len(data), ErrMalformedPayload)
		}
		return FirmwareConfigRequestPayload{
			FirmwareType:      binary.LittleEndian.Uint16(data[0:]),
			FirmwareVersion:   binary.LittleEndian.Uint16(data[2:]),
			Blocks:            binary.LittleEndian.Uint16(data[4:]),
			Crc:               binary.LittleEndian.Uint16(data[6:]),
			BootloaderVersion: binary.LittleEndian.Uint16(data[8:]),
		}, nil
	case types.StreamFirmwareConfigResponse:
		if len(data) != 8 {
			return nil, fmt.Errorf("%s: %d bytes, want 8: %w", subtype, len(data), ErrMalformedPayload)
		}
		return FirmwareConfigResponsePayload{
			FirmwareType:    binary.LittleEndian.Uint16(data[0:]),
			FirmwareVersion: binary.LittleEndian.Uint16(data[2:]),
			Blocks:          binary.LittleEndian.Uint16(data[4:]),
			Crc:             binary.LittleEndian.Uint16(data[6:]),
		}, nil
	case types.StreamFirmwareRequest:
		if len(data) != 6 {
			return nil, fmt.Errorf("%s: %d bytes, want 6: %w", subtype, len(data), ErrMalformedPayload)
		}
		return FirmwareRequestPayload{
			FirmwareType:    binary.LittleEndian.Uint16(data[0:]),
			FirmwareVersion: binary.LittleEndian.Uint16(data[2:]),
			Block:           binary.LittleEndian.Uint16(data[4:]),
		}, nil
	case types.StreamFirmwareResponse:
		if len(data) != 22 {
			return nil, fmt.Errorf("%s: %d bytes, want 22: %w", subtype, len(data), ErrMalformedPayload)
		}
		p := FirmwareResponsePayload{
			FirmwareType:    binary.LittleEndian.Uint16(data[0:]),
			FirmwareVersion: binary.LittleEndian.Uint16(data[2:]),
			Block:           binary.LittleEndian.Uint16(data[4:]),
		}
		copy(p.Data[:], data[6:])
		return p, nil
	}
	return nil, fmt.Errorf("subtype %d: %w", subtype, ErrUnknownSubtype)
}

func encodeWords(words ...uint16) string {
	buf := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[2*i:], w)
	}
	return hex.EncodeToString(buf)
}

func parseUint8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}
