package ota

import "time"

type Status string

const (
	StatusRequested Status = "Requested"
	StatusUnstarted Status = "Unstarted"
	StatusStarted   Status = "Started"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether the session accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ReportedConfig holds what the node itself declared in its last firmware
// config request, kept for mismatch diagnostics.
type ReportedConfig struct {
	FirmwareType      uint16
	FirmwareVersion   uint16
	Blocks            uint16
	Crc               uint16
	BootloaderVersion uint16
}

// Session tracks one requested update for one node. Sessions reference
// firmware by (type, version) key only, never by pointer, so the repository
// is free to reorganize its storage.
type Session struct {
	Id              string
	NodeId          uint8
	FirmwareType    uint16
	FirmwareVersion uint16
	Status          Status
	CurrentBlock    uint16
	BlockCount      uint16
	Reported        *ReportedConfig
	ScheduledAt     time.Time
	LastActivity    time.Time
}

// StatusInfo is the read-only session snapshot handed to API callers.
type StatusInfo struct {
	SessionId       string `json:"session_id"`
	NodeId          uint8  `json:"node_id"`
	Status          Status `json:"status"`
	CurrentBlock    uint16 `json:"current_block"`
	BlockCount      uint16 `json:"blocks"`
	FirmwareType    uint16 `json:"firmware_type"`
	FirmwareVersion uint16 `json:"firmware_version"`
}

func (s *Session) snapshot() StatusInfo {
	return StatusInfo{
		SessionId:       s.Id,
		NodeId:          s.NodeId,
		Status:          s.Status,
		CurrentBlock:    s.CurrentBlock,
		BlockCount:      s.BlockCount,
		FirmwareType:    s.FirmwareType,
		FirmwareVersion: s.FirmwareVersion,
	}
}
