package models

import "time"

// Firmware is the persisted form of an uploaded image. The hex source is
// kept so the in-memory repository can be rebuilt on startup.
type Firmware struct {
	Type     int       `json:"firmware_type" bson:"firmware_type"`
	Version  int       `json:"firmware_version" bson:"firmware_version"`
	Blocks   int       `json:"blocks" bson:"blocks"`
	Crc      int       `json:"crc" bson:"crc"`
	HexData  string    `json:"hex_data" bson:"hex_data"`
	Uploaded time.Time `json:"uploaded" bson:"uploaded"`
}
