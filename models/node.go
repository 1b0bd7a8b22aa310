package models

import "time"

type Node struct {
	Id            int       `json:"node_id" bson:"node_id"`
	SketchName    string    `json:"sketch_name" bson:"sketch_name"`
	SketchVersion string    `json:"sketch_version" bson:"sketch_version"`
	ApiVersion    string    `json:"api_version" bson:"api_version"`
	BatteryLevel  int       `json:"battery_level" bson:"battery_level"`
	Parent        int       `json:"parent" bson:"parent"`
	Location      string    `json:"location" bson:"location"`
	LastSeen      time.Time `json:"last_seen" bson:"last_seen"`
}
